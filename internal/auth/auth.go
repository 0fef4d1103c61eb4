// Package auth turns bearer tokens into the identity the engine records as
// actor and org. Account and credential management live elsewhere.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const RoleSuperAdmin = "superadmin"

// ActorPublic attributes unauthenticated QR checks in the ledger.
const ActorPublic = "public"

// Identity is who a request acts as.
type Identity struct {
	UserID string
	OrgID  string
	Role   string
}

func (i Identity) IsSuperAdmin() bool { return i.Role == RoleSuperAdmin }

// CanAccessOrg reports whether the identity may read another org's data.
func (i Identity) CanAccessOrg(orgID string) bool {
	return i.IsSuperAdmin() || i.OrgID == orgID
}

// Claims is the JWT payload issued by the identity provider.
type Claims struct {
	UserID string `json:"uid"`
	OrgID  string `json:"org"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, OrgID: c.OrgID, Role: c.Role}
}

// IssueJWT signs a token for id. Used by tests and local tooling.
func IssueJWT(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: id.UserID,
		OrgID:  id.OrgID,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   id.UserID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyJWT validates a JWT and returns the claims.
func VerifyJWT(secret, tokenStr string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: jwt verify: %w", err)
	}
	if claims.UserID == "" {
		return nil, errors.New("auth: token has no uid claim")
	}
	return &claims, nil
}
