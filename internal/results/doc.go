// Package results provides the data-collaborator clients that fetch poll
// results snapshots: an HTTP client against the poll API and a read-only
// Postgres repository against the poll database.
package results
