package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/dbpool"
)

// bucketNamePattern matches spec.md §4.5's bucket naming rule, borrowed
// from the original's BUCKET_NAME_PATTERN.
var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{1,61}[a-z0-9]$`)

// Bucket is a storage bucket registry row.
type Bucket struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Public      bool            `json:"public"`
	Description string          `json:"description,omitempty"`
	OwnerID     string          `json:"owner_id"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	FileCount   int64           `json:"file_count"`
	TotalSize   int64           `json:"total_size"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// Buckets is the bucket registry, backed by the blob worker's directory
// lifecycle via Client.
type Buckets struct {
	pool   *dbpool.Pool
	client *Client
}

func NewBuckets(pool *dbpool.Pool, client *Client) *Buckets {
	return &Buckets{pool: pool, client: client}
}

// CreateBucketInput is the POST /storage/buckets body.
type CreateBucketInput struct {
	Name        string          `json:"name" validate:"required"`
	Public      bool            `json:"public"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Create provisions the backing directory on the storage worker, then
// inserts the registry row. Idempotent on a name collision: returns
// the existing bucket instead of failing, per spec.md §4.5.
func (b *Buckets) Create(ctx context.Context, ownerID string, in CreateBucketInput) (*Bucket, error) {
	name := strings.ToLower(strings.TrimSpace(in.Name))
	if !bucketNamePattern.MatchString(name) {
		return nil, apierror.ValidationErr("invalid bucket name")
	}

	if err := b.client.CreateBucket(ctx, name, in.Public); err != nil {
		return nil, apierror.UnavailableErr("storage service unavailable")
	}

	metadata := in.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	id := uuid.New().String()
	_, err := b.pool.DB.ExecContext(ctx, `
		INSERT INTO buckets (id, name, public, description, owner_id, metadata, file_count, total_size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, now(), now())
		ON CONFLICT (name) DO NOTHING`,
		id, name, in.Public, in.Description, ownerID, metadata)
	if err != nil {
		return nil, err
	}
	return b.GetByName(ctx, name)
}

const bucketSelectSQL = `
	SELECT id, name, public, coalesce(description,''), owner_id, metadata, file_count, total_size, created_at, updated_at
	FROM buckets`

func (b *Buckets) scanOne(row *sql.Row) (*Bucket, error) {
	bucket := &Bucket{}
	if err := row.Scan(&bucket.ID, &bucket.Name, &bucket.Public, &bucket.Description, &bucket.OwnerID,
		&bucket.Metadata, &bucket.FileCount, &bucket.TotalSize, &bucket.CreatedAt, &bucket.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFoundErr("bucket")
		}
		return nil, err
	}
	return bucket, nil
}

func (b *Buckets) Get(ctx context.Context, id string) (*Bucket, error) {
	return b.scanOne(b.pool.DB.QueryRowContext(ctx, bucketSelectSQL+` WHERE id = $1`, id))
}

func (b *Buckets) GetByName(ctx context.Context, name string) (*Bucket, error) {
	return b.scanOne(b.pool.DB.QueryRowContext(ctx, bucketSelectSQL+` WHERE name = $1`, name))
}

// OwnerID implements gateway.OwnershipFunc.
func (b *Buckets) OwnerID(ctx context.Context, id string) (string, error) {
	bucket, err := b.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return bucket.OwnerID, nil
}

// CanAccess implements the read-access rule shared by every storage
// endpoint: public buckets are open to anyone, private buckets require
// any authenticated caller.
func (b *Bucket) CanAccess(authenticated bool) bool {
	return b.Public || authenticated
}

// Count returns the number of buckets visible to the caller (public,
// plus the caller's own private buckets when authenticated).
func (b *Buckets) Count(ctx context.Context, search, callerID string, authenticated bool) (int, error) {
	var n int
	err := b.pool.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM buckets
		WHERE (public = true OR ($3 AND owner_id = $2))
		  AND ($1 = '' OR name ILIKE '%'||$1||'%' OR description ILIKE '%'||$1||'%')`,
		search, callerID, authenticated).Scan(&n)
	return n, err
}

func (b *Buckets) List(ctx context.Context, search, callerID string, authenticated bool) ([]*Bucket, error) {
	rows, err := b.pool.DB.QueryContext(ctx, bucketSelectSQL+`
		WHERE (public = true OR ($3 AND owner_id = $2))
		  AND ($1 = '' OR name ILIKE '%'||$1||'%' OR description ILIKE '%'||$1||'%')
		ORDER BY created_at DESC`, search, callerID, authenticated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Bucket
	for rows.Next() {
		bucket := &Bucket{}
		if err := rows.Scan(&bucket.ID, &bucket.Name, &bucket.Public, &bucket.Description, &bucket.OwnerID,
			&bucket.Metadata, &bucket.FileCount, &bucket.TotalSize, &bucket.CreatedAt, &bucket.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, bucket)
	}
	return out, rows.Err()
}

// PatchBucketInput updates bucket registry metadata.
type PatchBucketInput struct {
	Public      *bool   `json:"public"`
	Description *string `json:"description"`
}

func (b *Buckets) Patch(ctx context.Context, id string, in PatchBucketInput) (*Bucket, error) {
	_, err := b.pool.DB.ExecContext(ctx, `
		UPDATE buckets SET
			public = COALESCE($2, public),
			description = COALESCE($3, description),
			updated_at = now()
		WHERE id = $1`, id, in.Public, in.Description)
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, id)
}

// Delete removes the bucket's backing directory (best-effort, cascading
// file deletes are the storage worker's responsibility) and its
// registry row.
func (b *Buckets) Delete(ctx context.Context, id string) error {
	bucket, err := b.Get(ctx, id)
	if err != nil {
		return err
	}
	_ = b.client.DeleteBucket(ctx, bucket.Name)

	res, err := b.pool.DB.ExecContext(ctx, `DELETE FROM buckets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierror.NotFoundErr("bucket")
	}
	return nil
}
