package registry

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/auth"
	"github.com/selfdb/gateway/internal/dbpool"
)

// User is the registry's public projection of a users row (no hash).
type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Role      string  `json:"role"`
	IsActive  bool    `json:"is_active"`
	CreatedAt string  `json:"created_at"`
}

var userSortColumns = map[string]bool{
	"email": true, "first_name": true, "last_name": true, "created_at": true,
}

// Users is the registry over the users table.
type Users struct {
	pool *dbpool.Pool
	auth *auth.Service
}

func NewUsers(pool *dbpool.Pool, authSvc *auth.Service) *Users {
	return &Users{pool: pool, auth: authSvc}
}

// CreateInput is the register-a-user request body.
type CreateInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
}

// Create registers a new user. Idempotent on the unique-email
// collision only when the conflicting row is indistinguishable
// (same first/last name) — spec.md §4.3 "idempotent on unique-key
// collision ... only if the conflicting row would be indistinguishable;
// otherwise 409".
func (r *Users) Create(ctx context.Context, in CreateInput) (*User, bool, error) {
	existing, err := r.getByEmail(ctx, in.Email)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, err
	}
	if existing != nil {
		if existing.FirstName == in.FirstName && existing.LastName == in.LastName {
			return existing, true, nil
		}
		return nil, false, apierror.ConflictErr("A user with this email already exists")
	}

	hash, err := r.auth.HashPassword(ctx, in.Password)
	if err != nil {
		return nil, false, err
	}

	id := uuid.New().String()
	_, err = r.pool.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, 'USER', true, now())`,
		id, in.Email, hash, in.FirstName, in.LastName)
	if pqErr := apierror.FromPQ(err); pqErr != nil {
		return nil, false, pqErr
	}
	if err != nil {
		return nil, false, err
	}

	created, err := r.Get(ctx, id)
	return created, false, err
}

func (r *Users) getByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.DB.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, role, is_active, created_at
		FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (r *Users) Get(ctx context.Context, id string) (*User, error) {
	row := r.pool.DB.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, role, is_active, created_at
		FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFoundErr("user")
	}
	return u, err
}

func (r *Users) Count(ctx context.Context, search string) (int, error) {
	if err := ValidateSearch(search); err != nil {
		return 0, err
	}
	var n int
	err := r.pool.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM users
		WHERE ($1 = '' OR email ILIKE '%'||$1||'%' OR first_name ILIKE '%'||$1||'%' OR last_name ILIKE '%'||$1||'%')`,
		search).Scan(&n)
	return n, err
}

func (r *Users) List(ctx context.Context, p ListParams) ([]*User, error) {
	if err := ValidateSearch(p.Search); err != nil {
		return nil, err
	}
	sortBy, order, err := ValidateSort(p.SortBy, userSortColumns, p.SortOrder)
	if err != nil {
		return nil, err
	}
	orderClause := OrderByClause(sortBy, order, false)
	if orderClause == "" {
		orderClause = `ORDER BY created_at DESC`
	}
	limit := ClampLimit(p.Limit, 100)

	query := `
		SELECT id, email, first_name, last_name, role, is_active, created_at
		FROM users
		WHERE ($1 = '' OR email ILIKE '%'||$1||'%' OR first_name ILIKE '%'||$1||'%' OR last_name ILIKE '%'||$1||'%')
		` + orderClause + `
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.DB.QueryContext(ctx, query, p.Search, limit, p.Skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// PatchInput carries only explicitly-set fields (admin-only route);
// unknown fields are rejected by the gateway's strict decoder before
// this is called.
type PatchInput struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Role      *string `json:"role" validate:"omitempty,oneof=USER ADMIN"`
	IsActive  *bool   `json:"is_active"`
}

func (r *Users) Patch(ctx context.Context, id string, in PatchInput) (*User, error) {
	_, err := r.pool.DB.ExecContext(ctx, `
		UPDATE users SET
			first_name = COALESCE($2, first_name),
			last_name  = COALESCE($3, last_name),
			role       = COALESCE($4, role),
			is_active  = COALESCE($5, is_active)
		WHERE id = $1`, id, in.FirstName, in.LastName, in.Role, in.IsActive)
	if pqErr := apierror.FromPQ(err); pqErr != nil {
		return nil, pqErr
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *Users) Delete(ctx context.Context, id string) error {
	res, err := r.pool.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierror.NotFoundErr("user")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row *sql.Row) (*User, error)   { return scanRowScanner(row) }
func scanUserRows(row *sql.Rows) (*User, error) { return scanRowScanner(row) }

func scanRowScanner(row rowScanner) (*User, error) {
	u := &User{}
	var createdAt sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.IsActive, &createdAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		u.CreatedAt = createdAt.Time.Format("2006-01-02T15:04:05.000000Z")
	}
	return u, nil
}
