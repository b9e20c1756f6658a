// Package system implements the small API-key-gated status surface:
// GET /system/status, per spec.md's EXTERNAL INTERFACES table.
package system

import (
	"context"

	"github.com/selfdb/gateway/internal/dbpool"
)

// Status is the response body for GET /system/status.
type Status struct {
	Initialized bool   `json:"initialized"`
	Version     string `json:"version"`
}

// Reporter reads the one-way bootstrap latch.
type Reporter struct {
	pool    *dbpool.Pool
	version string
}

func NewReporter(pool *dbpool.Pool, version string) *Reporter {
	return &Reporter{pool: pool, version: version}
}

func (r *Reporter) Status(ctx context.Context) (*Status, error) {
	var initialized bool
	err := r.pool.DB.QueryRowContext(ctx, `SELECT initialized FROM system_config LIMIT 1`).Scan(&initialized)
	if err != nil {
		return nil, err
	}
	return &Status{Initialized: initialized, Version: r.version}, nil
}
