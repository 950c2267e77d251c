// Package handlers implements the HTTP handlers for queries, workflow
// triggering/polling, and health checks, plus shared JSON helpers.
package handlers
