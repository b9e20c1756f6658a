// Package auth implements the gateway's session core (C4): password
// hashing off the request goroutine, access-token mint/verify, and
// database-backed refresh-token rotation with reuse detection.
package auth

import (
	"context"
	"database/sql"

	"github.com/selfdb/gateway/internal/dbpool"
)

// User is the subset of the users table the session core needs.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
}

// Service bundles the database handle, hashing pool, and token settings.
// One Service is constructed at startup and injected into the gateway —
// never a package-level global, per DESIGN NOTES §9.
type Service struct {
	pool                *dbpool.Pool
	hashPool            *HashPool
	secretKey           string
	accessTokenMinutes  int
	refreshTokenDays    int
}

// Config carries the tunables Service needs from internal/config without
// creating an import cycle.
type Config struct {
	SecretKey                string
	AccessTokenExpireMinutes int
	RefreshTokenExpireDays   int
	BcryptCost               int
}

func NewService(pool *dbpool.Pool, cfg Config) *Service {
	return &Service{
		pool:               pool,
		hashPool:           NewHashPool(cfg.BcryptCost, 0),
		secretKey:          cfg.SecretKey,
		accessTokenMinutes: cfg.AccessTokenExpireMinutes,
		refreshTokenDays:   cfg.RefreshTokenExpireDays,
	}
}

func (s *Service) Close() { s.hashPool.Close() }

func (s *Service) HashPassword(ctx context.Context, password string) (string, error) {
	return s.hashPool.Hash(ctx, password)
}

// VerifyCredentials looks up the user by (case-insensitive) email and
// checks the password. The error is deliberately the same
// ErrInvalidCredentials whether the email is unknown or the password is
// wrong, per spec.md §7 "deliberately opaque (no user enumeration)".
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	u, err := s.findUserByEmail(ctx, email)
	if err != nil {
		if err == sql.ErrNoRows {
			// Still run a hash comparison against a dummy value so the
			// response timing doesn't leak whether the email exists.
			_, _ = s.hashPool.Verify(ctx, password, dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := s.hashPool.Verify(ctx, password, u.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrInactiveUser
	}
	return u, nil
}

// dummyHash is a valid bcrypt hash of a fixed, never-used password; used
// only to equalize timing for unknown-email login attempts.
const dummyHash = "$2a$10$CwTycUXWue0Thq9StjUM0uJ8Zqx7j9N2b3Z3qjN1Y0bC9t8Q8n7Nu"

func (s *Service) findUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, is_active FROM users WHERE lower(email) = lower($1)`, email)
	u := &User{}
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) findUserByID(ctx context.Context, id string) (*User, error) {
	row := s.pool.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, is_active FROM users WHERE id = $1`, id)
	u := &User{}
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive); err != nil {
		return nil, err
	}
	return u, nil
}

// VerifyAccessToken parses and validates the JWT, then resolves `sub` to
// an active user row. Any failure collapses to ErrInvalidToken, per
// spec.md §4.2.
func (s *Service) VerifyAccessToken(ctx context.Context, raw string) (*User, error) {
	claims, err := s.ParseAccessToken(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	u, err := s.findUserByID(ctx, claims.Subject)
	if err != nil || !u.IsActive {
		return nil, ErrInvalidToken
	}
	return u, nil
}

// OptionalVerify never returns an error: a missing or invalid token
// resolves to nil, letting handlers branch on a nil user.
func (s *Service) OptionalVerify(ctx context.Context, raw string) *User {
	if raw == "" {
		return nil
	}
	u, err := s.VerifyAccessToken(ctx, raw)
	if err != nil {
		return nil
	}
	return u
}

// ValidateWebSocketToken is the handshake-time validator of spec.md
// §4.2: it takes the token from a query parameter (no headers at
// handshake time) and never raises — it resolves to (userID, role) or
// ("", "") for an anonymous connection.
func (s *Service) ValidateWebSocketToken(ctx context.Context, raw string) (userID, role string) {
	u := s.OptionalVerify(ctx, raw)
	if u == nil {
		return "", ""
	}
	return u.ID, u.Role
}

// MarkInitialized flips system_config.initialized false→true exactly
// once, on the first successful login, inside the caller's transaction.
func MarkInitialized(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE system_config SET initialized = true WHERE initialized = false`)
	return err
}

// IsInitialized reports the current bootstrap-latch value.
func (s *Service) IsInitialized(ctx context.Context) (bool, error) {
	var initialized bool
	err := s.pool.DB.QueryRowContext(ctx, `SELECT initialized FROM system_config LIMIT 1`).Scan(&initialized)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return initialized, err
}
