package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"qms/lane-service/internal/models"
	"qms/lane-service/internal/store"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "lane-service"

type authContextKey struct{}

type authInfo struct {
	Actor models.Actor
}

// ActorLookup resolves the actor named by a token subject.
type ActorLookup interface {
	Actor(ctx context.Context, actorID string) (models.Actor, error)
}

// IssueToken signs an HS256 token whose subject is the actor id.
func IssueToken(secret []byte, actorID string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates signature, issuer and expiry and returns the subject.
func ParseToken(secret []byte, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

func AuthMiddleware(secret []byte, actors ActorLookup, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing token")
			return
		}
		actorID, err := ParseToken(secret, token)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		actor, err := actors.Actor(r.Context(), actorID)
		if err != nil {
			if errors.Is(err, store.ErrActorNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "unknown actor")
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if !actor.IsActive {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "actor inactive")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, authInfo{Actor: actor})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromContext(ctx context.Context) (models.Actor, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return models.Actor{}, false
	}
	info, ok := value.(authInfo)
	if !ok {
		return models.Actor{}, false
	}
	return info.Actor, true
}

func requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (models.Actor, bool) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing token")
		return models.Actor{}, false
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, true
		}
	}
	writeError(w, requestIDFromRequest(r), http.StatusForbidden, "forbidden", "role not permitted")
	return models.Actor{}, false
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/realtime/") {
		return true
	}
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/queue/reservation":
		return r.Method == http.MethodPost
	case "/api/queue/status", "/api/queue/recent-operations", "/api/queue/events", "/api/queue/ws":
		return r.Method == http.MethodGet
	}
	return false
}
