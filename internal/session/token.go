package session

import (
	"errors"
	"time"

	"github.com/bjpl/offlinekit/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by a session token: the registered claims plus the
// subject's role, so authorization checks never need a store read.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// GenerateToken signs an HS256 token for userID with the given role and
// validity window. Returns the token string and its expiry.
func GenerateToken(userID, role string, secretKey []byte, validity time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(validity)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates the token structurally and by expiry, returning
// common.ErrTokenExpired or common.ErrInvalidToken accordingly. No claims
// beyond structure and expiry are verified; this is a development
// substrate, not a hardened auth system.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
