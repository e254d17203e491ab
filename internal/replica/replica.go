package replica

import (
	"context"
	"database/sql"
	"time"
)

// Locator identifies a replica: where its snapshot lives remotely and
// where the local database file is kept.
type Locator struct {
	Name      string
	RemoteURL string
	LocalPath string
}

// Snapshot is a fully transferred database snapshot staged on local disk,
// waiting to be promoted into place by the engine.
type Snapshot struct {
	Path string
	Size int64
}

// Replica is an opened local database.
type Replica struct {
	Name         string
	Path         string
	DB           *sql.DB
	OpenedAt     time.Time
	FromSnapshot bool
}

// Close releases the underlying database handle.
func (r *Replica) Close() error {
	if r.DB == nil {
		return nil
	}

	return r.DB.Close()
}

// Engine opens local replica databases. Implementations own the local
// file layout and any bookkeeping; the open orchestrator only cares about
// these three operations.
type Engine interface {
	// Exists reports whether the replica already exists on local disk.
	Exists(loc Locator) (bool, error)

	// OpenImmediate opens the local replica as-is, without any download.
	OpenImmediate(ctx context.Context, loc Locator) (*Replica, error)

	// OpenFromSnapshot promotes a staged snapshot into place and opens it.
	OpenFromSnapshot(ctx context.Context, loc Locator, snap *Snapshot) (*Replica, error)
}
