package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the catalog database and creates the replicas table if it
// doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS replicas (
		id INTEGER PRIMARY KEY,
		name TEXT UNIQUE,
		path TEXT,
		last_opened_at DATETIME,
		last_synced_at DATETIME,
		snapshot_size INTEGER DEFAULT 0,
		status TEXT DEFAULT 'new',
		locked_by TEXT
	)`)

	if err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}
