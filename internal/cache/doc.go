// Package cache provides the Redis-backed shared cache used for
// cross-instance interaction dedup and response caching.
// This package is internal and should not be imported by external projects.
package cache
