package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/merchkit/discount-engine/pkg/httputil"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

// storeIDKey is the context key for the tenant store ID.
const storeIDKey contextKey = "store_id"

// StoreIDFromHeader reads the X-Store-ID header (injected by the platform
// gateway) and stores it in the request context. Every discount route is
// tenant-scoped, so requests without it are rejected.
func StoreIDFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		storeID := r.Header.Get("X-Store-ID")
		if storeID == "" {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "X-Store-ID header is required"},
			})
			return
		}
		ctx := context.WithValue(r.Context(), storeIDKey, storeID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// storeIDFromContext extracts the store ID from the request context.
func storeIDFromContext(ctx context.Context) (string, bool) {
	storeID, ok := ctx.Value(storeIDKey).(string)
	return storeID, ok && storeID != ""
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
