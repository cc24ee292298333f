package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kwonlabs/kwon-backplane/pkg/api"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

type contextKey string

const reviewerKey contextKey = "reviewer"

// ReviewerFromContext returns the authenticated reviewer name, or "".
func ReviewerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(reviewerKey).(string)
	return v
}

// Auth issues and verifies reviewer JWTs. A nil Auth disables
// authentication entirely; construct one only when a secret is set.
type Auth struct {
	secret  []byte
	reviews *store.ReviewStore
	ttl     time.Duration
	clock   func() time.Time
}

func NewAuth(secret string, reviews *store.ReviewStore) *Auth {
	return &Auth{
		secret:  []byte(secret),
		reviews: reviews,
		ttl:     12 * time.Hour,
		clock:   time.Now,
	}
}

func (a *Auth) WithClock(clock func() time.Time) *Auth {
	a.clock = clock
	return a
}

// TokenFor signs a short-lived reviewer token.
func (a *Auth) TokenFor(reviewer string) (string, error) {
	now := a.clock()
	claims := jwt.RegisteredClaims{
		Subject:   reviewer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		Issuer:    "kwon-backplane",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify parses a token and returns the reviewer it names.
func (a *Auth) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithTimeFunc(a.clock),
	)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("token carries no subject")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores
// the reviewer name in the request context.
func (a *Auth) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			api.WriteUnauthorized(w, "bearer token required")
			return
		}
		reviewer, err := a.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			api.WriteUnauthorized(w, "invalid or expired token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), reviewerKey, reviewer)))
	}
}

// RegisterRoutes mounts the login endpoint. Login itself is never
// guarded.
func (a *Auth) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/review/login", a.handleLogin)
}

func (a *Auth) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	var req struct {
		Reviewer string `json:"reviewer"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reviewer == "" || req.Password == "" {
		api.WriteBadRequest(w, "reviewer and password are required")
		return
	}
	ok, err := a.reviews.VerifyReviewer(r.Context(), req.Reviewer, req.Password)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if !ok {
		api.WriteUnauthorized(w, "invalid credentials")
		return
	}
	token, err := a.TokenFor(req.Reviewer)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "reviewer": req.Reviewer})
}
