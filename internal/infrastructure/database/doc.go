// Package database provides SQLite storage for easycom.
//
// This package manages:
//   - Opening the database with WAL mode and foreign keys enabled
//   - Schema migrations read from any fs.FS (the migrations package embeds the real ones)
//   - Transaction helpers for repositories
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive. Files are named YYYYMMDD_HHMMSS_description.up.sql
// with an optional .down.sql; each runs in its own transaction and is
// recorded in schema_migrations.
package database
