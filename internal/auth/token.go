package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ms-boxoffice/internal/models"
)

// ExtractTokenFromRequest extracts the bearer token from the Authorization header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

type claims struct {
	jwt.RegisteredClaims
	Role        string `json:"role,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access,omitempty"`
}

// identity maps the subject and the strongest known role. A plain "role"
// claim wins over Keycloak-style realm roles.
func (c *claims) identity() (*Identity, error) {
	if c.Subject == "" {
		return nil, errors.New("subject claim not found in token")
	}
	if models.IsAnonymousOwner(c.Subject) {
		return nil, errors.New("subject uses the anonymous holder prefix")
	}
	id := &Identity{UserID: c.Subject, Role: models.RoleCustomer}
	if r := parseRole(c.Role); r != "" {
		id.Role = r
		return id, nil
	}
	for _, name := range c.RealmAccess.Roles {
		switch parseRole(name) {
		case models.RoleAdmin:
			id.Role = models.RoleAdmin
			return id, nil
		case models.RoleCashier:
			id.Role = models.RoleCashier
		}
	}
	return id, nil
}

func parseRole(s string) models.Role {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ADMIN":
		return models.RoleAdmin
	case "CASHIER":
		return models.RoleCashier
	case "CUSTOMER":
		return models.RoleCustomer
	}
	return ""
}

// HMACVerifier checks HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (*Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(rawToken, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return c.identity()
}

// Sign issues an HS256 token for subject; used by tooling and tests.
func (v *HMACVerifier) Sign(subject string, role models.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
