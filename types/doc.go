// Package types provides unified type definitions for the MemFlow engine:
// memory records, agent configurations, workflow statuses, and the shared
// error taxonomy. Every other package depends on types; types depends on
// nothing inside the module.
package types
