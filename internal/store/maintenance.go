package store

// Maintenance operations run out of band, never on the hot path of a user
// action. Each is a single statement: interrupting between them loses nothing
// but progress.

// CheckpointWAL folds the write-ahead log back into the main database file.
// No-op under rollback-journal mode.
func (db *DB) CheckpointWAL() error {
	if db.journalMode != "wal" {
		return nil
	}
	_, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	return classify(err)
}

// VacuumIncremental returns up to 256 free pages to the filesystem.
func (db *DB) VacuumIncremental() error {
	_, err := db.Exec(`PRAGMA incremental_vacuum(256)`)
	return classify(err)
}

// Optimize refreshes planner statistics for indexes whose shape drifted.
func (db *DB) Optimize() error {
	_, err := db.Exec(`PRAGMA optimize`)
	return classify(err)
}
