/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package auth protects the control-plane HTTP endpoints (status, skip,
// pause, volume) with bearer-token auth: an HS256 JWT for operators talking
// through a browser/CLI, or a static long-lived token for unattended
// automation clients.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the authorization level carried by a token. There is no
// multi-tenant user model here — a single running player has, at most, a
// handful of operators and automation clients.
type Role string

const (
	// RoleViewer can read status but not mutate playback.
	RoleViewer Role = "viewer"
	// RoleOperator can skip, pause, resume, set volume and mute.
	RoleOperator Role = "operator"
)

// Claims extends the registered claims with the role the token grants.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// CanOperate reports whether the role may issue mutating control commands.
func (c Claims) CanOperate() bool {
	return c.Role == RoleOperator
}

// Issue creates an HS256 JWT string for role, valid for ttl.
func Issue(secret []byte, role Role, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   string(role),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Parse validates a token string and enforces HS256 signing.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Role != RoleViewer && claims.Role != RoleOperator {
		return nil, fmt.Errorf("unknown role claim: %q", claims.Role)
	}

	return claims, nil
}
