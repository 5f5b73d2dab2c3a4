package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
)

type contextKey string

const identityKey contextKey = "identity"

// HolderHeader carries the anonymous shopper's holder id.
const HolderHeader = "X-Holder-ID"

// Identity is what a verified bearer token tells us about the caller.
type Identity struct {
	UserID string
	Role   models.Role
}

// Verifier turns a raw bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// OIDCVerifier checks tokens against an OpenID Connect issuer.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	cfg := &oidc.Config{ClientID: clientID}
	if clientID == "" {
		cfg.SkipClientIDCheck = true
	}
	return &OIDCVerifier{verifier: provider.Verifier(cfg)}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	var c claims
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return c.identity()
}

// Middleware verifies bearer tokens and stores the Identity on the request
// context. When required is false, requests without a token pass through
// anonymously; a token that is present but invalid is always rejected.
func Middleware(v Verifier, required bool, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				if required {
					reject(w, "missing Authorization header")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				reject(w, err.Error())
				return
			}
			if v == nil {
				reject(w, "token verification is not configured")
				return
			}

			id, err := v.Verify(r.Context(), rawToken)
			if err != nil {
				if log != nil {
					log.LogSecurity("TOKEN_REJECTED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				}
				reject(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, *id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func reject(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"success":false,"message":%q,"code":%q}`, msg, apperr.Unauthorized)
}

// FromContext returns the verified identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// UserID returns the verified subject or an empty string.
func UserID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

// Requester combines the verified identity with the holder header.
func Requester(r *http.Request) models.Requester {
	id, _ := FromContext(r.Context())
	role := id.Role
	if role == "" {
		role = models.RoleCustomer
	}
	return models.Requester{
		UserID:   id.UserID,
		HolderID: strings.TrimSpace(r.Header.Get(HolderHeader)),
		Role:     role,
	}
}
