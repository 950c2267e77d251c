// Package database manages the relational connection pool behind the GORM
// memory store: pool sizing, health checks, and transaction helpers.
// This package is internal and should not be imported by external projects.
package database
