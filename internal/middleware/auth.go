package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"

	"github.com/nolongerevil/state-server-go/internal/audit"
	"github.com/nolongerevil/state-server-go/internal/util"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Identity is the authenticated end user taken from the identity provider's token.
type Identity struct {
	UserID string
	Email  string
}

func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(IdentityContextKey).(*Identity); ok {
		return identity
	}
	return nil
}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// UserClaims are the claims read from user bearer tokens.
type UserClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// UserAuthMiddleware accepts HS256 tokens signed with the shared secret.
type UserAuthMiddleware struct {
	secret []byte
	issuer string
}

func NewUserAuthMiddleware(secret, issuer string) *UserAuthMiddleware {
	return &UserAuthMiddleware{secret: []byte(secret), issuer: issuer}
}

func (m *UserAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized",
			})
			return
		}

		claims, err := m.parse(token)
		if err != nil {
			log.Warn().Err(err).Msg("user auth middleware: invalid token")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "invalid user token"},
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		ctx := WithIdentity(r.Context(), &Identity{UserID: claims.Subject, Email: claims.Email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *UserAuthMiddleware) parse(raw string) (*UserClaims, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token not valid")
	}
	if claims.Subject == "" {
		return nil, errors.New("missing subject")
	}
	if m.issuer != "" && !claims.VerifyIssuer(m.issuer, true) {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	return claims, nil
}

// DeviceAuthMiddleware guards the device-facing routes with one shared API key.
type DeviceAuthMiddleware struct {
	keyHash string
}

func NewDeviceAuthMiddleware(apiKey string) *DeviceAuthMiddleware {
	m := &DeviceAuthMiddleware{}
	if apiKey != "" {
		m.keyHash = util.HashToken(apiKey)
	}
	return m
}

func (m *DeviceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.keyHash == "" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "Device API not configured",
			})
			return
		}

		token := bearerToken(r)
		if token == "" || !util.ConstantTimeEqual(util.HashToken(token), m.keyHash) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "invalid device key"},
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AdminAuthMiddleware checks a bearer token against ADMIN_TOKEN_HASH.
type AdminAuthMiddleware struct {
	tokenHash string
}

func NewAdminAuthMiddleware(tokenHash string) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{tokenHash: tokenHash}
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "Admin not configured",
			})
			return
		}

		token := bearerToken(r)
		if token == "" || !util.CheckPasswordHash(token, m.tokenHash) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "invalid admin token"},
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken also accepts ?token= since EventSource cannot set headers.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
