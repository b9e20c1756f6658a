// Package backup implements the cron-triggered dump+archive scheduler
// and the guarded restore path (C10): pg_dump/psql run as subprocesses
// with explicit timeouts, archives are plain tar.gz, and restore is
// only reachable while the install has never seen a successful login.
// Per spec.md §4.8.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/selfdb/gateway/internal/dbpool"
)

// Record is a backups registry row.
type Record struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	SizeBytes   int64   `json:"size_bytes"`
	Status      string  `json:"status"`
	TriggeredBy string  `json:"triggered_by"`
	Error       *string `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// DBConfig carries the direct Postgres connection parameters pg_dump
// and psql need — separate from DATABASE_URL because pg_dump takes
// discrete -h/-p/-U/-d flags, not a DSN, in the original tooling this
// is grounded on.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// Scheduler owns the cron job and the backup directory tree.
type Scheduler struct {
	pool       *dbpool.Pool
	db         DBConfig
	backupDir  string
	storageDir string
	envPath    string
	retention  time.Duration
	cron       *cron.Cron
}

func New(pool *dbpool.Pool, db DBConfig, backupDir, storageDir, envPath string, retentionDays int) *Scheduler {
	return &Scheduler{
		pool:       pool,
		db:         db,
		backupDir:  backupDir,
		storageDir: storageDir,
		envPath:    envPath,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Start parses the 5-field cron expression and begins running
// CreateBackup on schedule. Uses cron's standard parser (not its
// optional seconds field) to match the 5-field minute/hour/day/month/dow
// contract of spec.md §4.8.
func (s *Scheduler) Start(schedule string) error {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.CreateBackup(ctx, "cron"); err != nil {
			log.Printf("backup: scheduled run failed: %v", err)
		}
		if err := s.sweepRetention(ctx); err != nil {
			log.Printf("backup: retention sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("parse backup schedule: %w", err)
	}
	s.cron = c
	c.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Scheduler) recordSelect() string {
	return `SELECT id, filename, size_bytes, status, triggered_by, error, created_at FROM backups`
}

func (s *Scheduler) scanOne(row *sql.Row) (*Record, error) {
	r := &Record{}
	if err := row.Scan(&r.ID, &r.Filename, &r.SizeBytes, &r.Status, &r.TriggeredBy, &r.Error, &r.CreatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*Record, error) {
	return s.scanOne(s.pool.DB.QueryRowContext(ctx, s.recordSelect()+` WHERE id = $1`, id))
}

func (s *Scheduler) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.DB.QueryContext(ctx, s.recordSelect()+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(&r.ID, &r.Filename, &r.SizeBytes, &r.Status, &r.TriggeredBy, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Path returns the on-disk location of a completed backup archive for
// download.
func (s *Scheduler) Path(filename string) string {
	return filepath.Join(s.backupDir, filename)
}

// Delete removes both the archive file and its registry row. The file
// removal is best-effort; a missing file doesn't block the metadata
// delete.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_ = os.Remove(s.Path(rec.Filename))
	_, err = s.pool.DB.ExecContext(ctx, `DELETE FROM backups WHERE id = $1`, id)
	return err
}

func (s *Scheduler) sweepRetention(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)
	rows, err := s.pool.DB.QueryContext(ctx, `SELECT id, filename FROM backups WHERE created_at < $1`, cutoff)
	if err != nil {
		return err
	}
	type victim struct{ id, filename string }
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.filename); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, v)
	}
	rows.Close()

	for _, v := range victims {
		_ = os.Remove(s.Path(v.filename))
		if _, err := s.pool.DB.ExecContext(ctx, `DELETE FROM backups WHERE id = $1`, v.id); err != nil {
			log.Printf("backup: retention delete of %s failed: %v", v.filename, err)
		}
	}
	return nil
}

func newRecordID() string { return uuid.New().String() }
