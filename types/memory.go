package types

import "time"

// MemoryType tags the origin of a memory record.
type MemoryType string

const (
	// MemoryInteraction represents a (query, response) pair written back
	// after an agent invocation.
	MemoryInteraction MemoryType = "interaction"

	// MemoryFact represents a discrete factual statement.
	MemoryFact MemoryType = "fact"

	// MemoryDomainKnowledge represents curated domain material loaded at
	// bootstrap time.
	MemoryDomainKnowledge MemoryType = "domain_knowledge"
)

// MemoryRecord is an append-only memory entry. Records are immutable once
// stored; corrections are modeled as new records, never in-place mutation.
type MemoryRecord struct {
	ID          string         `json:"id"`
	Namespace   string         `json:"namespace"`
	Content     string         `json:"content"`
	Embedding   []float64      `json:"embedding,omitempty"`
	MemoryType  MemoryType     `json:"memory_type"`
	Importance  float64        `json:"importance"`
	Tags        []string       `json:"tags,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	Degraded    bool           `json:"degraded,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ScoredRecord pairs a memory record with its similarity to a query vector.
type ScoredRecord struct {
	Record     MemoryRecord `json:"record"`
	Similarity float64      `json:"similarity"`
}

// MemoryStats provides statistics about memory usage.
type MemoryStats struct {
	TotalRecords int            `json:"total_records"`
	ByNamespace  map[string]int `json:"by_namespace,omitempty"`
	ByType       map[string]int `json:"by_type,omitempty"`
}
