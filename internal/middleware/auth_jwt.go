package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"modelgen/internal/domain"
)

// TokenClaims are the bearer token claims: the subject is the user id.
type TokenClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type principalKey struct{}

// SignJWT issues an HS256 token for claims.
func SignJWT(secret string, claims TokenClaims) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyJWT parses token and validates its signature and time claims.
func VerifyJWT(secret, token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// AuthJWT rejects requests without a valid bearer token and stores the
// caller's principal in the request context. EventSource clients cannot set
// headers, so an access_token query parameter is accepted as well.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeAuthError(w, err.Error())
				return
			}
			claims, err := VerifyJWT(secret, token)
			if err != nil {
				writeAuthError(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), claims.principal())))
		})
	}
}

// OptionalAuthJWT attaches the principal when a token is present and lets
// anonymous requests through. A present but invalid token is still rejected.
func OptionalAuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" && r.URL.Query().Get("access_token") == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, err := bearerToken(r)
			if err != nil {
				writeAuthError(w, err.Error())
				return
			}
			claims, err := VerifyJWT(secret, token)
			if err != nil {
				writeAuthError(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), claims.principal())))
		})
	}
}

func (c *TokenClaims) principal() domain.Principal {
	p := domain.Principal{ID: c.Subject, Role: domain.UserRoleUser}
	if domain.UserRole(c.Role) == domain.UserRoleAdmin {
		p.Role = domain.UserRoleAdmin
	}
	return p
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
			return token, nil
		}
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid authorization")
	}
	return strings.TrimSpace(parts[1]), nil
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":{"code":"unauthorized","message":%q}}`, message)
}

func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	if strings.TrimSpace(p.ID) == "" {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// PrincipalResolver reads the principal placed by AuthJWT.
type PrincipalResolver struct{}

func (PrincipalResolver) CurrentPrincipal(ctx context.Context) (domain.Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return domain.Principal{}, domain.ErrUnauthorized
	}
	return p, nil
}

var _ domain.AuthContext = PrincipalResolver{}
