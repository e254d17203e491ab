package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/syncbox/internal/telemetry"
)

// InstrumentedCatalog wraps Catalog with telemetry.
type InstrumentedCatalog struct {
	catalog   *Catalog
	telemetry *telemetry.Telemetry
}

// NewInstrumentedCatalog creates a new instrumented catalog.
func NewInstrumentedCatalog(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedCatalog {
	return &InstrumentedCatalog{
		catalog:   NewCatalog(dbConn),
		telemetry: tel,
	}
}

// GetReplicas retrieves all replicas with telemetry.
func (c *InstrumentedCatalog) GetReplicas() ([]Record, error) {
	var result []Record

	err := c.telemetry.InstrumentDBOperation(context.Background(), "get_replicas", func(ctx context.Context) error {
		var err error
		result, err = c.catalog.GetReplicas()

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// TouchOpened stamps a replica open with telemetry.
func (c *InstrumentedCatalog) TouchOpened(name, path string) error {
	return c.telemetry.InstrumentDBOperation(context.Background(), "touch_opened", func(ctx context.Context) error {
		return c.catalog.TouchOpened(name, path)
	})
}

// ClaimPromotion claims a promotion with telemetry.
func (c *InstrumentedCatalog) ClaimPromotion(name, instanceID string) (bool, error) {
	var result bool

	err := c.telemetry.InstrumentDBOperation(context.Background(), "claim_promotion", func(ctx context.Context) error {
		var err error
		result, err = c.catalog.ClaimPromotion(name, instanceID)

		return err
	})
	if err != nil {
		return false, err
	}

	return result, nil
}

// RecordSnapshot stamps a promoted snapshot with telemetry.
func (c *InstrumentedCatalog) RecordSnapshot(name, path string, size int64) error {
	return c.telemetry.InstrumentDBOperation(context.Background(), "record_snapshot", func(ctx context.Context) error {
		return c.catalog.RecordSnapshot(name, path, size)
	})
}

// ReleaseClaim releases a promotion claim with telemetry.
func (c *InstrumentedCatalog) ReleaseClaim(name, instanceID string) error {
	return c.telemetry.InstrumentDBOperation(context.Background(), "release_claim", func(ctx context.Context) error {
		return c.catalog.ReleaseClaim(name, instanceID)
	})
}
