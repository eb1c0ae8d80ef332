// Package journal persists wallet lifecycle records in an append-only SQL
// table. MySQL is the production driver; SQLite serves local runs and
// tests. Schema migrations are embedded from deploy/migrations.
package journal
