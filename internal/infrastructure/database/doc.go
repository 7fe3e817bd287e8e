// Package database holds the speaker registry's SQLite store.
//
// The store is deliberately small: a speakers table (configured host/port
// plus the device identity learned from the speaker) and the schema
// migration ledger. WAL mode keeps reads from blocking the single writer,
// and migrations are embedded into the binary so the service never depends
// on SQL files being present on disk.
//
// Migration files pair YYYYMMDD_HHMMSS_description.up.sql with an optional
// .down.sql for development rollback. Migrate applies each pending file in
// its own transaction, so a failed migration can be fixed and rerun without
// repeating the ones that already committed.
package database
