// Package store provides the persistent bookkeeping of projects, versions, project files and users.
// It works on top of any sqlx-compatible relational database, currently SQLite (modernc, WAL mode,
// immediate transactions) and PostgreSQL (lib/pq, SELECT ... FOR UPDATE). The project status column
// is the only mutex of the system, all status transitions happen inside a transaction holding
// the row lock.
//
// The store also owns the on-disk side of a project: its build directory, the live configuration
// file and the version snapshots. Compensating actions keep rows and files in sync when one
// half of a two-phase change fails.
package store
