// Package database connects the optional event store.
//
// Acquisition runs write into a single PostgreSQL (or TimescaleDB)
// table, measured_events, keyed by run id and per-run sequence number.
// EnsureSchema creates the table on first use.
package database
