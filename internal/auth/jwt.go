package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the access-token payload: sub=user_id, role, exp, per
// spec.md §4.2.
type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// MintAccessToken signs a short-lived access token for userID/role.
func (s *Service) MintAccessToken(userID, role string) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(s.accessTokenMinutes) * time.Minute)
	claims := AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccessToken verifies signature and expiry and returns the claims.
// It does not check the user's active status — callers (VerifyAccessToken)
// do that against the database.
func (s *Service) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.secretKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
