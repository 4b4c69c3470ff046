package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/google/uuid"

	"listinglab/backend/internal/auth"
	"listinglab/backend/internal/store"
)

type contextKey string

const userIDKey contextKey = "user_id"
const emailKey contextKey = "email"

func withUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

func withEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailKey, email)
}

func Email(ctx context.Context) string {
	e, _ := ctx.Value(emailKey).(string)
	return e
}

// Auth verifies the bearer token (JWKS when configured, HS256 secret
// otherwise), syncs the user to the DB, and sets the user ID in context.
// GET requests may pass ?token= since EventSource cannot set headers.
func Auth(secret string, jwks *keyfunc.JWKS, db *store.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			if raw == "" && r.Method == http.MethodGet && r.URL.Query().Get("token") != "" {
				raw = "Bearer " + r.URL.Query().Get("token")
			}
			if raw == "" {
				http.Error(w, `{"error":"missing authorization"}`, http.StatusUnauthorized)
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(raw, prefix) {
				http.Error(w, `{"error":"invalid authorization"}`, http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(raw, prefix)
			var userID uuid.UUID
			var email string
			var err error
			if jwks != nil {
				userID, email, err = auth.VerifyTokenJWKS(token, jwks)
			} else {
				userID, email, err = auth.VerifyToken(token, secret)
			}
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			if err := db.UpsertUser(r.Context(), userID, email); err != nil {
				log.Printf("auth: UpsertUser failed: %v", err)
				http.Error(w, `{"error":"db error"}`, http.StatusInternalServerError)
				return
			}
			ctx := withUserID(r.Context(), userID)
			ctx = withEmail(ctx, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
