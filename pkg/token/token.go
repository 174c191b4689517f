// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package token verifies the bearer tokens accompanying API requests.
package token

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opencloud-eu/fileapi/pkg/errtypes"
)

// Roles recognized by the API. Tokens carrying any other role are
// denied everywhere.
const (
	RoleAppUser    = "app_user"
	RoleExportUser = "export_user"
	RoleAdminUser  = "admin_user"
)

// Claims are the token claims issued by the authentication service.
type Claims struct {
	Role   string   `json:"role"`
	User   string   `json:"user"`
	Pnum   string   `json:"pnum"`
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

// MemberOf reports whether the token holder is a member of group.
func (c *Claims) MemberOf(group string) bool {
	return slices.Contains(c.Groups, group)
}

// Verifier validates bearer tokens against per-project secrets.
type Verifier struct {
	secrets map[string]string
	maxAge  time.Duration
	now     func() time.Time
}

// NewVerifier returns a Verifier. maxAge bounds how far in the future
// a token's exp may lie; tokens exceeding it are rejected as a clamp
// on runaway issuance.
func NewVerifier(secrets map[string]string, maxAge time.Duration) *Verifier {
	return &Verifier{secrets: secrets, maxAge: maxAge, now: time.Now}
}

// Verify checks the Authorization header for the project in the URL
// and returns the claims when the token grants one of the required
// roles. The signing secret is selected by the URL project, never by
// the token's own pnum claim.
func (v *Verifier) Verify(pnum, authorization string, requiredRoles ...string) (*Claims, error) {
	if authorization == "" {
		return nil, errtypes.MissingToken("no authorization header")
	}
	raw := strings.TrimPrefix(authorization, "Bearer ")
	if raw == authorization || raw == "" {
		return nil, errtypes.MissingToken("no bearer token")
	}

	secret, ok := v.secrets[pnum]
	if !ok {
		return nil, errtypes.WrongProject("unknown project: " + pnum)
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	tkn, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	switch {
	case err == nil && tkn.Valid:
		// continue below
	case isOneOf(err, jwt.ErrTokenExpired, jwt.ErrTokenNotValidYet):
		return nil, errtypes.Expired("token outside validity window")
	case isOneOf(err, jwt.ErrTokenSignatureInvalid, jwt.ErrTokenUnverifiable):
		return nil, errtypes.InvalidSignature("signature verification failed")
	default:
		return nil, errtypes.MissingToken("malformed token")
	}

	if claims.ExpiresAt == nil {
		return nil, errtypes.Expired("token carries no exp")
	}
	if claims.ExpiresAt.Time.After(v.now().Add(v.maxAge)) {
		return nil, errtypes.Expired("token exp exceeds the maximum lifetime")
	}
	if claims.Pnum != pnum {
		return nil, errtypes.WrongProject(claims.Pnum)
	}
	if !slices.Contains(requiredRoles, claims.Role) {
		return nil, errtypes.WrongRole(claims.Role)
	}
	return claims, nil
}

func isOneOf(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
