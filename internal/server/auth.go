package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"hookahplus/internal/domain"
	"hookahplus/internal/repo"
)

const defaultTokenTTL = 12 * time.Hour

type AuthConfig struct {
	// JWTSecret turns on authentication when set. Without it every request
	// is anonymous unless it presents a staff key.
	JWTSecret string
	TokenTTL  time.Duration
	Logger    *log.Logger
}

func (c AuthConfig) enabled() bool { return strings.TrimSpace(c.JWTSecret) != "" }

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// KeyStore resolves hashed staff device keys.
type KeyStore interface {
	GetStaffKeyByHash(ctx context.Context, hash string) (domain.StaffKey, error)
}

// Principal is the authenticated staff member behind a request.
type Principal struct {
	StaffID string
	Role    domain.Role
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type staffClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// SignStaffToken mints an HS256 token for one staff member and role.
func SignStaffToken(secret, staffID string, role domain.Role, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(staffID) == "" {
		return "", errors.New("staff id required")
	}
	if !role.Valid() {
		return "", errors.New("invalid staff role")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := time.Now()
	claims := staffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "hookahplus",
		},
		Role: string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &staffClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	role := domain.Role(claims.Role)
	if !role.Valid() {
		return Principal{}, errors.New("role claim invalid")
	}
	return Principal{StaffID: claims.Subject, Role: role, Source: "jwt"}, nil
}

func authenticateStaffKey(ctx context.Context, keys KeyStore, key string) (Principal, error) {
	if keys == nil {
		return Principal{}, errors.New("staff keys not available")
	}
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("staff key required")
	}
	staffKey, err := keys.GetStaffKeyByHash(ctx, repo.HashStaffKey(key))
	if err != nil {
		return Principal{}, err
	}
	return Principal{StaffID: staffKey.StaffID, Role: staffKey.Role, Source: "staff_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, keys KeyStore) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
		path.Join(basePath, "openapi.json"):   true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			keyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			if authz != "" && cfg.enabled() {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if keyHeader != "" {
				principal, err := authenticateStaffKey(req.Context(), keys, keyHeader)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if !cfg.enabled() {
				next.ServeHTTP(w, req)
				return
			}
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

// bindPrincipal checks a press against the authenticated staff member and
// fills in the staff id when the request left it empty.
func bindPrincipal(ctx context.Context, role domain.Role, staffID string) (string, error) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return staffID, nil
	}
	if role != p.Role {
		return "", forbiddenRole(role)
	}
	if staffID == "" {
		return p.StaffID, nil
	}
	if staffID != p.StaffID {
		return "", newAPIError(http.StatusForbidden, "forbidden", "staff_id does not match credentials", map[string]any{"staff_id": staffID})
	}
	return staffID, nil
}

// requireStaff rejects requests made with customer credentials. Anonymous
// requests pass; the middleware has already refused them when auth is on.
func requireStaff(ctx context.Context) error {
	p, ok := principalFromContext(ctx)
	if !ok || p.Role != domain.RoleCustomer {
		return nil
	}
	return forbiddenRole(p.Role)
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
