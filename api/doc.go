// Package api defines the HTTP request/response contracts for the query
// and workflow endpoints. Handlers live in api/handlers.
package api
