package tables

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/dbpool"
)

// Snippet is a saved, optionally-shared SQL console snippet.
type Snippet struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SQLCode     string `json:"sql_code"`
	Description string `json:"description,omitempty"`
	IsShared    bool   `json:"is_shared"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
}

// Snippets is the CRUD surface over sql_snippets.
type Snippets struct {
	pool *dbpool.Pool
}

func NewSnippets(pool *dbpool.Pool) *Snippets { return &Snippets{pool: pool} }

// CreateSnippetInput is the POST /sql/snippets body.
type CreateSnippetInput struct {
	Name        string `json:"name" validate:"required"`
	SQLCode     string `json:"sql_code" validate:"required"`
	Description string `json:"description,omitempty"`
	IsShared    bool   `json:"is_shared"`
}

func (s *Snippets) Create(ctx context.Context, createdBy string, in CreateSnippetInput) (*Snippet, error) {
	id := uuid.New().String()
	_, err := s.pool.DB.ExecContext(ctx, `
		INSERT INTO sql_snippets (id, name, sql_code, description, is_shared, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		id, in.Name, in.SQLCode, in.Description, in.IsShared, createdBy)
	if pqErr := apierror.FromPQ(err); pqErr != nil {
		return nil, pqErr
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Snippets) Get(ctx context.Context, id string) (*Snippet, error) {
	row := s.pool.DB.QueryRowContext(ctx, `
		SELECT id, name, sql_code, coalesce(description,''), is_shared, created_by, created_at
		FROM sql_snippets WHERE id = $1`, id)
	snip := &Snippet{}
	if err := row.Scan(&snip.ID, &snip.Name, &snip.SQLCode, &snip.Description, &snip.IsShared, &snip.CreatedBy, &snip.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFoundErr("snippet")
		}
		return nil, err
	}
	return snip, nil
}

// List returns the caller's own snippets plus every shared snippet.
func (s *Snippets) List(ctx context.Context, userID string) ([]*Snippet, error) {
	rows, err := s.pool.DB.QueryContext(ctx, `
		SELECT id, name, sql_code, coalesce(description,''), is_shared, created_by, created_at
		FROM sql_snippets
		WHERE created_by = $1 OR is_shared = true
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Snippet
	for rows.Next() {
		snip := &Snippet{}
		if err := rows.Scan(&snip.ID, &snip.Name, &snip.SQLCode, &snip.Description, &snip.IsShared, &snip.CreatedBy, &snip.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, snip)
	}
	return out, rows.Err()
}

func (s *Snippets) Delete(ctx context.Context, id string) error {
	res, err := s.pool.DB.ExecContext(ctx, `DELETE FROM sql_snippets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierror.NotFoundErr("snippet")
	}
	return nil
}
