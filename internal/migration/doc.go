// Package migration versions the memory-record schema with golang-migrate.
// Migration files are embedded per dialect (sqlite, postgres, mysql) so the
// binary carries its own schema history.
// This package is internal and should not be imported by external projects.
package migration
