package sqlite

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"os"
	"strconv"
	"time"
)

// Record is one catalog row describing a known replica.
type Record struct {
	Name         string
	Path         string
	LastOpenedAt string
	LastSyncedAt string
	SnapshotSize int64
	Status       string
	LockedBy     string
}

// Catalog is the bookkeeping repository for local replicas.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(dbConn *sql.DB) *Catalog {
	return &Catalog{db: dbConn}
}

// GetReplicas returns every replica the catalog knows about.
func (c *Catalog) GetReplicas() ([]Record, error) {
	rows, err := c.db.Query(`SELECT name, path, last_opened_at, last_synced_at, snapshot_size, status, locked_by FROM replicas`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record

	for rows.Next() {
		var record Record

		var openedAt, syncedAt, lockedBy sql.NullString

		if err := rows.Scan(&record.Name, &record.Path, &openedAt, &syncedAt, &record.SnapshotSize, &record.Status, &lockedBy); err != nil {
			return nil, err
		}

		record.LastOpenedAt = openedAt.String
		record.LastSyncedAt = syncedAt.String
		record.LockedBy = lockedBy.String

		records = append(records, record)
	}

	return records, rows.Err()
}

// TouchOpened upserts a replica row and stamps its last open time.
func (c *Catalog) TouchOpened(name, path string) error {
	_, err := c.db.Exec(`
		INSERT INTO replicas (name, path, last_opened_at, status)
		VALUES (?, ?, ?, 'opened')
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			last_opened_at = excluded.last_opened_at,
			status = 'opened'
	`, name, path, time.Now().Format(time.RFC3339))

	return err
}

// ClaimPromotion atomically marks a replica as being promoted by this
// instance. Returns false if another instance holds the claim.
func (c *Catalog) ClaimPromotion(name, instanceID string) (bool, error) {
	rows, err := c.db.Exec(`
		INSERT INTO replicas (name, status, locked_by)
		VALUES (?, 'promoting', ?)
		ON CONFLICT(name) DO UPDATE SET
			status = 'promoting',
			locked_by = excluded.locked_by
		WHERE replicas.locked_by IS NULL OR replicas.locked_by = '' OR replicas.locked_by = excluded.locked_by
	`, name, instanceID)
	if err != nil {
		return false, err
	}

	affected, _ := rows.RowsAffected()

	return affected > 0, nil
}

// RecordSnapshot stamps a successful snapshot promotion and releases the
// promotion claim.
func (c *Catalog) RecordSnapshot(name, path string, size int64) error {
	_, err := c.db.Exec(`
		INSERT INTO replicas (name, path, last_synced_at, snapshot_size, status, locked_by)
		VALUES (?, ?, ?, ?, 'synced', NULL)
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			last_synced_at = excluded.last_synced_at,
			snapshot_size = excluded.snapshot_size,
			status = 'synced',
			locked_by = NULL
	`, name, path, time.Now().Format(time.RFC3339), size)

	return err
}

// ReleaseClaim clears a promotion claim after a failed promotion.
func (c *Catalog) ReleaseClaim(name, instanceID string) error {
	_, err := c.db.Exec(`UPDATE replicas SET locked_by = NULL WHERE name = ? AND locked_by = ?`, name, instanceID)

	return err
}

// GenerateInstanceID returns a unique string for this process (hostname+pid+random).
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	pid := os.Getpid()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(pid) + "-" + hex.EncodeToString(rnd)
}
