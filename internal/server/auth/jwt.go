// Package auth consumes identity tokens minted by the external identity
// layer. The engine never issues credentials of its own; it verifies the
// HS256 signature against the shared secret and extracts the identity
// the connection runs as.
package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parleychat/parley/internal/common"
)

// Identity is who a verified token says the connection belongs to.
type Identity struct {
	UserID  int64
	Name    string
	Avatar  string
	IsAdmin bool
}

// Claims carries the identity fields next to the registered set. The
// subject is the user id in decimal.
type Claims struct {
	jwt.RegisteredClaims
	Name    string `json:"name"`
	Avatar  string `json:"avatar,omitempty"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
}

// GenerateToken mints a token the way the identity layer does. The
// server only uses it in tests; the client's local mode uses it when
// pointed at a shared development secret.
func GenerateToken(id *Identity, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:    id.Name,
		Avatar:  id.Avatar,
		IsAdmin: id.IsAdmin,
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseIdentity reads the identity out of a token without verifying the
// signature. The client uses it to learn who its token says it is before
// connecting; the server never trusts it and re-verifies on join.
func ParseIdentity(tokenString string) (*Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnauthorized, err)
	}
	return identityFromClaims(claims)
}

// VerifyToken checks signature and expiry and returns the embedded
// identity. Every failure maps to common.ErrUnauthorized; the caller
// does not get to distinguish a forged token from an expired one.
func VerifyToken(tokenString string, secret []byte) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, common.ErrUnauthorized
	}
	return identityFromClaims(claims)
}

func identityFromClaims(claims *Claims) (*Identity, error) {
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: bad subject", common.ErrUnauthorized)
	}
	return &Identity{
		UserID:  userID,
		Name:    claims.Name,
		Avatar:  claims.Avatar,
		IsAdmin: claims.IsAdmin,
	}, nil
}
