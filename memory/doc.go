// Package memory implements the namespace-partitioned vector memory store
// and the interaction writer.
//
// Records are append-only: there is no update or delete path. Writes within
// one namespace are serialized; queries see a consistent snapshot that
// includes all inserts that completed before the query started. Operations
// on different namespaces never block each other.
//
// Backends: in-memory (tests and small deployments), Redis, and GORM
// (SQLite/PostgreSQL/MySQL). All backends score by brute-force cosine scan;
// swapping in a dedicated vector index is a backend concern, not a contract
// change.
package memory
