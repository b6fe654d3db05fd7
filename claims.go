package iamclient

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the only token type accepted for provisioning.
const TokenTypeAccess = "access"

// RoleClaim is the normalized shape of a role entry in the token payload.
// The wire format is either a bare string or an object carrying a slug
// and/or name; both collapse into this one shape at the boundary so no
// business logic ever sees the raw union.
type RoleClaim struct {
	Name string
}

// TokenClaims is the verified, immutable claims record decoded from an IAM
// access token. Payload holds the full claim set so configured field
// mappings can resolve arbitrary claims by name.
type TokenClaims struct {
	Subject   string
	Type      string
	AppKey    string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Roles     []RoleClaim
	Payload   map[string]any
}

// Claim returns a claim value by name from the full payload.
func (c *TokenClaims) Claim(name string) (any, bool) {
	if c == nil || c.Payload == nil {
		return nil, false
	}
	v, ok := c.Payload[name]
	return v, ok
}

// StringClaim returns a claim coerced to string, or "" when absent or not a
// string-like value.
func (c *TokenClaims) StringClaim(name string) string {
	v, ok := c.Claim(name)
	if !ok {
		if name == "sub" && c != nil {
			return c.Subject
		}
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// JSON numbers decode as float64; identifiers are often numeric
		return trimFloat(s)
	default:
		return ""
	}
}

// RoleSlugs returns the de-duplicated, order-preserving role names.
func (c *TokenClaims) RoleSlugs() []string {
	if c == nil || len(c.Roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(c.Roles))
	slugs := make([]string, 0, len(c.Roles))
	for _, r := range c.Roles {
		if r.Name == "" {
			continue
		}
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		slugs = append(slugs, r.Name)
	}
	return slugs
}

// HasRole reports whether the token carries the given role.
func (c *TokenClaims) HasRole(name string) bool {
	for _, r := range c.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// claimsFromMap converts raw jwt.MapClaims into the normalized TokenClaims
// record. Role entries and the audience (scalar or list) are normalized
// here, at the boundary.
func claimsFromMap(mp jwt.MapClaims) (*TokenClaims, error) {
	if mp == nil {
		return nil, ErrTokenMalformed
	}

	claims := &TokenClaims{
		Payload: map[string]any(mp),
	}

	if sub, err := mp.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if iss, err := mp.GetIssuer(); err == nil {
		claims.Issuer = iss
	}
	if aud, err := mp.GetAudience(); err == nil {
		claims.Audience = []string(aud)
	}
	if exp, err := mp.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mp.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}

	if v, ok := mp["type"].(string); ok {
		claims.Type = v
	}
	if v, ok := mp["app_key"].(string); ok {
		claims.AppKey = v
	}

	claims.Roles = normalizeRoleClaims(mp["roles"])

	return claims, nil
}

// normalizeRoleClaims accepts the dynamic role-claim shapes IAM emits:
// ["editor", ...] or [{"slug":"editor","name":"Editor"}, ...], including a
// mix of both. Anything unrecognized is skipped.
func normalizeRoleClaims(raw any) []RoleClaim {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil
	}

	roles := make([]RoleClaim, 0, len(list))
	for _, entry := range list {
		switch v := entry.(type) {
		case string:
			if v != "" {
				roles = append(roles, RoleClaim{Name: v})
			}
		case map[string]any:
			name, _ := v["slug"].(string)
			if name == "" {
				name, _ = v["name"].(string)
			}
			if name != "" {
				roles = append(roles, RoleClaim{Name: name})
			}
		}
	}

	if len(roles) == 0 {
		return nil
	}
	return roles
}

func trimFloat(f float64) string {
	// Identifiers come through JSON as float64; render whole numbers without
	// exponent so "12345" round-trips.
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return ""
}
