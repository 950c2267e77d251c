// Package retrieval wraps embedding generation and store lookup into a
// single "retrieve relevant memories" operation with thresholding, ranking,
// and degraded-fallback annotation.
package retrieval
