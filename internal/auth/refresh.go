package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// TokenPair is the response shape of login/refresh: an access JWT plus a
// raw (unhashed) refresh token shown to the client exactly once.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	User         *User
}

// Login verifies credentials, mints an access+refresh pair, and — on the
// very first successful login on this install — flips
// system_config.initialized in the same transaction, per spec.md §4.2.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	access, _, err := s.MintAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	var rawRefresh string
	err = s.pool.WithTx(ctx, func(tx *sql.Tx) error {
		raw, hash, expiresAt, err := newRefreshToken(s.refreshTokenDays)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
			user.ID, hash, expiresAt); err != nil {
			return err
		}
		if err := MarkInitialized(ctx, tx); err != nil {
			return err
		}
		rawRefresh = raw
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: rawRefresh,
		ExpiresIn:    s.accessTokenMinutes * 60,
		User:         user,
	}, nil
}

// Refresh implements at-most-once rotation with reuse detection, per
// spec.md §4.2: the presented token is revoked iff it was still live;
// if it was already revoked, every live token for that user is revoked
// and the caller gets ErrTokenReuse.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*TokenPair, error) {
	hash := hashToken(rawToken)

	var userID string
	var reused bool
	var newRaw string

	err := s.pool.WithTx(ctx, func(tx *sql.Tx) error {
		// The race-free primitive: UPDATE ... WHERE revoked_at IS NULL
		// RETURNING. Zero rows affected means the token was already
		// revoked by a concurrent refresh (or a previous reuse).
		row := tx.QueryRowContext(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = now()
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()
			RETURNING user_id`, hash)

		err := row.Scan(&userID)
		if err == sql.ErrNoRows {
			reused = true
			// Recover the owning user (if the token exists at all, even
			// revoked/expired) so we can cascade-revoke. An unknown
			// token hash simply yields ErrInvalidToken below.
			lookupErr := tx.QueryRowContext(ctx,
				`SELECT user_id FROM refresh_tokens WHERE token_hash = $1`, hash).Scan(&userID)
			if lookupErr != nil {
				return ErrInvalidToken
			}
			_, err := tx.ExecContext(ctx,
				`UPDATE refresh_tokens SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
			return err
		}
		if err != nil {
			return err
		}

		raw, newHash, expiresAt, err := newRefreshToken(s.refreshTokenDays)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
			userID, newHash, expiresAt); err != nil {
			return err
		}
		newRaw = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reused {
		return nil, ErrTokenReuse
	}

	user, err := s.findUserByID(ctx, userID)
	if err != nil || !user.IsActive {
		return nil, ErrInvalidToken
	}
	access, _, err := s.MintAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: newRaw,
		ExpiresIn:    s.accessTokenMinutes * 60,
		User:         user,
	}, nil
}

// Logout revokes the single presented refresh token, or — if none is
// given — every live token for the caller.
func (s *Service) Logout(ctx context.Context, userID string, rawToken string) error {
	if rawToken == "" {
		return s.RevokeAllForUser(ctx, userID)
	}
	hash := hashToken(rawToken)
	_, err := s.pool.DB.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = now() WHERE token_hash = $1 AND revoked_at IS NULL`, hash)
	return err
}

func (s *Service) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.pool.DB.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	return err
}

func newRefreshToken(days int) (raw, hash string, expiresAt time.Time, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	hash = hashToken(raw)
	expiresAt = time.Now().AddDate(0, 0, days)
	return
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
