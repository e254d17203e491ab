package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/replica"
)

const dirPerm = 0755

// Store is the catalog surface the engine and handlers depend on. Both
// Catalog and InstrumentedCatalog satisfy it.
type Store interface {
	GetReplicas() ([]Record, error)
	TouchOpened(name, path string) error
	ClaimPromotion(name, instanceID string) (bool, error)
	RecordSnapshot(name, path string, size int64) error
	ReleaseClaim(name, instanceID string) error
}

// Engine opens SQLite-backed replicas and records catalog bookkeeping.
type Engine struct {
	catalog    Store
	instanceID string
}

func NewEngine(catalog Store) *Engine {
	return &Engine{
		catalog:    catalog,
		instanceID: GenerateInstanceID(),
	}
}

// Exists reports whether the replica database file is already on disk.
func (e *Engine) Exists(loc replica.Locator) (bool, error) {
	_, err := os.Stat(loc.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat replica: %w", err)
	}

	return true, nil
}

// OpenImmediate opens the local replica file as-is. A missing file yields
// a fresh empty database, matching the new-resource immediate-open case.
func (e *Engine) OpenImmediate(ctx context.Context, loc replica.Locator) (*replica.Replica, error) {
	logger := logctx.LoggerFromContext(ctx).With("replica", loc.Name)

	if err := os.MkdirAll(filepath.Dir(loc.LocalPath), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create replica directory: %w", err)
	}

	db, err := sql.Open("sqlite3", loc.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to ping replica: %w", err)
	}

	if err := e.catalog.TouchOpened(loc.Name, loc.LocalPath); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to record open: %w", err)
	}

	logger.DebugContext(ctx, "opened local replica", "path", loc.LocalPath)

	return &replica.Replica{
		Name:     loc.Name,
		Path:     loc.LocalPath,
		DB:       db,
		OpenedAt: time.Now(),
	}, nil
}

// OpenFromSnapshot promotes a staged snapshot into the replica's local
// path and opens it. Promotion is claimed in the catalog so two instances
// sharing a catalog never clobber each other's rename.
func (e *Engine) OpenFromSnapshot(ctx context.Context, loc replica.Locator, snap *replica.Snapshot) (*replica.Replica, error) {
	logger := logctx.LoggerFromContext(ctx).With("replica", loc.Name)

	claimed, err := e.catalog.ClaimPromotion(loc.Name, e.instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim promotion: %w", err)
	}

	if !claimed {
		return nil, fmt.Errorf("replica %s is being promoted by another instance", loc.Name)
	}

	if err := e.promote(snap.Path, loc.LocalPath); err != nil {
		if releaseErr := e.catalog.ReleaseClaim(loc.Name, e.instanceID); releaseErr != nil {
			logger.ErrorContext(ctx, "failed to release promotion claim", "err", releaseErr)
		}

		return nil, fmt.Errorf("failed to promote snapshot: %w", err)
	}

	if err := e.catalog.RecordSnapshot(loc.Name, loc.LocalPath, snap.Size); err != nil {
		return nil, fmt.Errorf("failed to record snapshot: %w", err)
	}

	r, err := e.OpenImmediate(ctx, loc)
	if err != nil {
		return nil, err
	}

	r.FromSnapshot = true

	logger.InfoContext(ctx, "promoted and opened snapshot", "path", loc.LocalPath, "snapshot_size", snap.Size)

	return r, nil
}

// promote moves the staged file into place, falling back to a copy when
// the staging dir and replica dir sit on different filesystems.
func (e *Engine) promote(stagedPath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), dirPerm); err != nil {
		return fmt.Errorf("failed to create replica directory: %w", err)
	}

	if err := os.Rename(stagedPath, localPath); err == nil {
		return nil
	}

	in, err := os.Open(stagedPath)
	if err != nil {
		return fmt.Errorf("failed to open staged snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create replica file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}

	return os.Remove(stagedPath)
}
