package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const (
	actorKey ctxKey = iota
	accessLogKey
)

// Claims are the token claims issued by the identity provider. The subject
// is the actor id.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator constructs an Authenticator. An empty issuer disables
// the issuer check.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Parse validates tokenString and returns the actor it identifies.
func (a *Authenticator) Parse(tokenString string) (model.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return model.Actor{}, err
	}
	if claims.Subject == "" {
		return model.Actor{}, errors.New("token has no subject")
	}
	switch claims.Role {
	case model.RoleAttendee, model.RoleOrganizer:
	default:
		return model.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return model.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// actor in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication credentials were not provided")
			return
		}
		actor, err := a.Parse(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token has expired"
			}
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msg)
			return
		}
		setLoggedActor(r.Context(), actor.ID)
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

// RequireRole rejects authenticated actors whose role is not in roles.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication credentials were not provided")
				return
			}
			if !slices.Contains(roles, actor.Role) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "you do not have permission to perform this action")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActorFrom returns the authenticated actor stored in ctx.
func ActorFrom(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(model.Actor)
	return actor, ok
}

func withActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}
