// Package authmw authenticates API requests. JWT validates the platform
// access token and stores a provisional principal; Profiles swaps in the
// role stored on the caller's profile.
package authmw

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"

	"github.com/Mirudhula24/smart-triage/internal/access"
	"github.com/Mirudhula24/smart-triage/internal/profile"
)

// Config for access token validation.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Claims is the subset of the platform token the service reads.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// JWT returns middleware that requires a valid HS256 bearer token. The
// token may also arrive as the access_token query parameter, which browsers
// need for WebSocket upgrades.
func JWT(cfg Config) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) { return cfg.Secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := tokenFromRequest(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(raw, claims, keyFunc)
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			id, err := uuid.Parse(claims.Subject)
			if err != nil || id == uuid.Nil {
				writeError(w, http.StatusUnauthorized, "invalid token subject")
				return
			}

			p := access.Principal{UserID: id, Email: claims.Email, Role: access.RolePatient}
			next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), p)))
		})
	}
}

func tokenFromRequest(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, tok, found := strings.Cut(auth, " ")
		if !found || !strings.EqualFold(scheme, "bearer") || tok == "" {
			return "", false
		}
		return tok, true
	}
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return tok, true
	}
	return "", false
}

// ProfileResolver loads or creates the caller's profile.
type ProfileResolver interface {
	Ensure(ctx context.Context, p access.Principal) (*profile.Profile, error)
}

// Profiles returns middleware that resolves the caller's profile, creating
// it on first sight, and replaces the token's role with the stored one.
func Profiles(resolver ProfileResolver, logger log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p, ok := access.FromContext(ctx)
			if !ok || !p.Authenticated() {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			prof, err := resolver.Ensure(ctx, p)
			if err != nil {
				if errors.Is(err, profile.ErrInvalidInput) {
					writeError(w, http.StatusUnauthorized, "invalid principal")
					return
				}
				logger.Error(ctx, err, "resolve profile", "user_id", p.UserID.String())
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			p.Role = prof.Role
			if p.Email == "" {
				p.Email = prof.Email
			}
			next.ServeHTTP(w, r.WithContext(access.WithPrincipal(ctx, p)))
		})
	}
}

// RequireRole rejects callers whose role is not listed. Admins always pass.
func RequireRole(roles ...access.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := access.FromContext(r.Context())
			if !ok || !p.Authenticated() {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if p.Role != access.RoleAdmin && !slices.Contains(roles, p.Role) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
