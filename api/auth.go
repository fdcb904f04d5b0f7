package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// IDENTITY - Bearer tokens issued by the identity provider
// =============================================================================

// Claims carries the acting identity. The subject is the employee id.
type Claims struct {
	Role      string `json:"role"`
	ManagerID string `json:"manager_id,omitempty"`
	jwt.RegisteredClaims
}

type actorKey struct{}

// WithActor stores the acting identity on ctx.
func WithActor(ctx context.Context, a leave.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the identity set by Authenticate.
func ActorFrom(ctx context.Context) (leave.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(leave.Actor)
	return a, ok
}

// Authenticate verifies an HS256 bearer token and puts its leave.Actor on
// the request context.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || tokenString == "" {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: CodeUnauthenticated, Message: "bearer token required"})
				return
			}

			var claims Claims
			token, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				}
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: CodeUnauthenticated, Message: msg})
				return
			}

			actor, err := claims.Actor()
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: CodeUnauthenticated, Message: err.Error()})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// Actor validates the claims and converts them.
func (c Claims) Actor() (leave.Actor, error) {
	if c.Subject == "" {
		return leave.Actor{}, errors.New("token has no subject")
	}
	role, err := leave.ParseRole(c.Role)
	if err != nil {
		return leave.Actor{}, fmt.Errorf("token role: %w", err)
	}
	return leave.Actor{
		ID:        leave.EmployeeID(c.Subject),
		Role:      role,
		ManagerID: leave.EmployeeID(c.ManagerID),
	}, nil
}

// IssueToken signs a token for actor. Used by leavectl and tests.
func IssueToken(secret []byte, actor leave.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:      string(actor.Role),
		ManagerID: string(actor.ManagerID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(actor.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// RequireRole rejects actors outside roles with 403.
func RequireRole(roles ...leave.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := ActorFrom(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSON(w, http.StatusForbidden, ErrorResponse{Code: CodeUnauthorized, Message: "insufficient role"})
		})
	}
}
