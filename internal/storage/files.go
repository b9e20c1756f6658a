package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/dbpool"
)

// File is a file registry row.
type File struct {
	ID        string          `json:"id"`
	BucketID  string          `json:"bucket_id"`
	Name      string          `json:"name"`
	Path      string          `json:"path"`
	Size      int64           `json:"size"`
	MimeType  string          `json:"mime_type"`
	OwnerID   *string         `json:"owner_id"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Version   int             `json:"version"`
	IsLatest  bool            `json:"is_latest"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

var fileSortColumns = map[string]bool{"created_at": true, "updated_at": true, "name": true, "size": true}

// Files proxies blob bytes to Client while owning the files registry.
type Files struct {
	pool    *dbpool.Pool
	buckets *Buckets
	client  *Client
}

func NewFiles(pool *dbpool.Pool, buckets *Buckets, client *Client) *Files {
	return &Files{pool: pool, buckets: buckets, client: client}
}

// nextAvailablePath implements spec.md §4.5's macOS-style duplicate
// resolution: "doc.pdf" becomes "doc (1).pdf" if "doc.pdf" already
// exists in the bucket, scanning existing numbered variants for the
// first unused slot.
func (f *Files) nextAvailablePath(ctx context.Context, bucketID string, original string) (string, error) {
	var exists bool
	err := f.pool.DB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM files WHERE bucket_id = $1 AND path = $2 AND is_latest = true AND deleted_at IS NULL)`,
		bucketID, original).Scan(&exists)
	if err != nil {
		return "", err
	}
	if !exists {
		return original, nil
	}

	dir, filename := "", original
	if idx := strings.LastIndex(original, "/"); idx != -1 {
		dir, filename = original[:idx+1], original[idx+1:]
	}

	base, ext := filename, ""
	if idx := strings.LastIndex(filename, "."); idx != -1 {
		base, ext = filename[:idx], filename[idx:]
	}

	rows, err := f.pool.DB.QueryContext(ctx, `
		SELECT path FROM files WHERE bucket_id = $1 AND path LIKE $2 AND is_latest = true AND deleted_at IS NULL`,
		bucketID, dir+base+"%"+ext)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	namePattern := regexp.MustCompile(`^` + regexp.QuoteMeta(dir+base) + `(?:\s*\((\d+)\))?` + regexp.QuoteMeta(ext) + `$`)
	used := map[int]bool{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return "", err
		}
		m := namePattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		n := 0
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		used[n] = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	next := 1
	for used[next] {
		next++
	}
	return fmt.Sprintf("%s%s (%d)%s", dir, base, next, ext), nil
}

// UploadResult carries back the details upload handlers report to the
// caller.
type UploadResult struct {
	File         *File
	OriginalPath string
	Renamed      bool
}

// Upload streams body straight to the storage worker, resolves any
// name collision, and records file metadata in one transaction-free
// sequence (blob write then metadata insert, matching spec.md §4.5's
// ordering — a metadata-insert failure after a successful blob write
// leaves an orphaned blob, accepted as the cost of true streaming).
func (f *Files) Upload(ctx context.Context, bucketID string, ownerID *string, body io.Reader, filename, requestedPath, contentType string, contentLength int64) (*UploadResult, error) {
	bucket, err := f.buckets.Get(ctx, bucketID)
	if err != nil {
		return nil, err
	}

	initial := strings.TrimSpace(requestedPath)
	if initial == "" {
		initial = strings.TrimSpace(filename)
	}
	if initial == "" {
		initial = "unnamed"
	}

	targetPath, err := f.nextAvailablePath(ctx, bucketID, initial)
	if err != nil {
		return nil, err
	}

	size, err := f.client.UploadStream(ctx, bucket.Name, targetPath, body, filename, contentType, contentLength)
	if err != nil {
		return nil, apierror.UnavailableErr("storage service unavailable")
	}

	id := uuid.New().String()
	name := targetPath
	if idx := strings.LastIndex(targetPath, "/"); idx != -1 {
		name = targetPath[idx+1:]
	}

	_, err = f.pool.DB.ExecContext(ctx, `
		INSERT INTO files (id, bucket_id, name, path, size, mime_type, owner_id, metadata, version, is_latest, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '{}'::jsonb, 1, true, now(), now())`,
		id, bucketID, name, targetPath, size, contentType, ownerID)
	if err != nil {
		return nil, err
	}
	_, _ = f.pool.DB.ExecContext(ctx, `
		UPDATE buckets SET file_count = file_count + 1, total_size = total_size + $2, updated_at = now() WHERE id = $1`,
		bucketID, size)

	file, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &UploadResult{File: file, OriginalPath: initial, Renamed: targetPath != initial}, nil
}

const fileSelectSQL = `
	SELECT id, bucket_id, name, path, size, mime_type, owner_id, metadata, version, is_latest, created_at, updated_at
	FROM files`

func (f *Files) scanOne(row *sql.Row) (*File, error) {
	file := &File{}
	if err := row.Scan(&file.ID, &file.BucketID, &file.Name, &file.Path, &file.Size, &file.MimeType,
		&file.OwnerID, &file.Metadata, &file.Version, &file.IsLatest, &file.CreatedAt, &file.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFoundErr("file")
		}
		return nil, err
	}
	return file, nil
}

func (f *Files) Get(ctx context.Context, id string) (*File, error) {
	return f.scanOne(f.pool.DB.QueryRowContext(ctx, fileSelectSQL+` WHERE id = $1`, id))
}

func (f *Files) getByPath(ctx context.Context, bucketID, path string) (*File, error) {
	return f.scanOne(f.pool.DB.QueryRowContext(ctx, fileSelectSQL+`
		WHERE bucket_id = $1 AND path = $2 AND is_latest = true AND deleted_at IS NULL`, bucketID, path))
}

// OwnerID implements gateway.OwnershipFunc. Files with no owner (public
// anonymous uploads) are never matched by an ownership check.
func (f *Files) OwnerID(ctx context.Context, id string) (string, error) {
	file, err := f.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if file.OwnerID == nil {
		return "", nil
	}
	return *file.OwnerID, nil
}

// ListParams is the query shape for GET /storage/files.
type ListParams struct {
	Skip, Limit           int
	Search, SortBy, Order string
}

func (f *Files) Count(ctx context.Context, bucketID, search string) (int, error) {
	var n int
	err := f.pool.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM files
		WHERE bucket_id = $1 AND is_latest = true AND deleted_at IS NULL
		  AND ($2 = '' OR name ILIKE '%'||$2||'%' OR path ILIKE '%'||$2||'%')`, bucketID, search).Scan(&n)
	return n, err
}

func (f *Files) List(ctx context.Context, bucketID string, p ListParams) ([]*File, error) {
	sortBy := p.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	if !fileSortColumns[sortBy] {
		return nil, apierror.BadInputErr(fmt.Sprintf("cannot sort by %q", sortBy))
	}
	order := strings.ToUpper(p.Order)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	limit := p.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf(`%s
		WHERE bucket_id = $1 AND is_latest = true AND deleted_at IS NULL
		  AND ($2 = '' OR name ILIKE '%%'||$2||'%%' OR path ILIKE '%%'||$2||'%%')
		ORDER BY %q %s LIMIT $3 OFFSET $4`, fileSelectSQL, sortBy, order)

	rows, err := f.pool.DB.QueryContext(ctx, query, bucketID, p.Search, limit, p.Skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		file := &File{}
		if err := rows.Scan(&file.ID, &file.BucketID, &file.Name, &file.Path, &file.Size, &file.MimeType,
			&file.OwnerID, &file.Metadata, &file.Version, &file.IsLatest, &file.CreatedAt, &file.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, file)
	}
	return out, rows.Err()
}

// Download resolves bucketName/path to the storage worker's byte
// stream and returns its mime type and size for the caller to set
// response headers.
func (f *Files) Download(ctx context.Context, bucketName, path string) (io.ReadCloser, *File, error) {
	bucket, err := f.buckets.GetByName(ctx, bucketName)
	if err != nil {
		return nil, nil, err
	}
	file, err := f.getByPath(ctx, bucket.ID, path)
	if err != nil {
		return nil, nil, err
	}
	body, err := f.client.Download(ctx, bucketName, path)
	if err != nil {
		return nil, nil, apierror.UnavailableErr("storage service unavailable")
	}
	return body, file, nil
}

// PatchFileInput updates a file's metadata JSON.
type PatchFileInput struct {
	Metadata json.RawMessage `json:"metadata"`
}

func (f *Files) Patch(ctx context.Context, id string, in PatchFileInput) (*File, error) {
	_, err := f.pool.DB.ExecContext(ctx, `
		UPDATE files SET metadata = $2, updated_at = now() WHERE id = $1`, id, in.Metadata)
	if err != nil {
		return nil, err
	}
	return f.Get(ctx, id)
}

// Delete removes blob bytes (best-effort — the storage worker may
// already be missing the object) then the metadata row, decrementing
// the owning bucket's stats.
func (f *Files) Delete(ctx context.Context, id string) error {
	file, err := f.Get(ctx, id)
	if err != nil {
		return err
	}
	bucket, err := f.buckets.Get(ctx, file.BucketID)
	if err != nil {
		return err
	}
	_ = f.client.Delete(ctx, bucket.Name, file.Path)

	res, err := f.pool.DB.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierror.NotFoundErr("file")
	}
	_, _ = f.pool.DB.ExecContext(ctx, `
		UPDATE buckets SET file_count = GREATEST(file_count - 1, 0), total_size = GREATEST(total_size - $2, 0), updated_at = now()
		WHERE id = $1`, file.BucketID, file.Size)
	return nil
}
