package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/engsnap/internal/recordloader"
)

type ctxKey string

const recordLoaderKey ctxKey = "recordLoader"

// RecordLoaderMiddleware attaches a fresh record loader to each request
// context. Per-request loaders keep the batch cache scoped to one request,
// so a later capture is never served from a stale batch.
func RecordLoaderMiddleware(store recordloader.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := recordloader.New(store)
			ctx := context.WithValue(r.Context(), recordLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RecordLoaderFromContext retrieves the request's record loader, or nil
// when the middleware is not installed.
func RecordLoaderFromContext(ctx context.Context) *recordloader.RecordLoader {
	if l, ok := ctx.Value(recordLoaderKey).(*recordloader.RecordLoader); ok {
		return l
	}
	return nil
}
