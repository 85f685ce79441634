package middleware

import (
	"net/http"

	"anonchat/internal/observability"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestContext copies chi's request id into the logging context and
// echoes it back to the caller. Mount it after chi's RequestID.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := chimw.GetReqID(r.Context())
		if requestID == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set(chimw.RequestIDHeader, requestID)
		ctx := observability.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
