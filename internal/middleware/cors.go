package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
	"github.com/samber/lo"
)

// CORS allows the listed origins to call the API with bearer credentials.
// "*" allows any origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !lo.Contains(allowedOrigins, "*"),
		MaxAge:           300,
	})
}

// ParseOrigins parses comma-separated origins string
func ParseOrigins(originsStr string) []string {
	return lo.FilterMap(strings.Split(originsStr, ","), func(origin string, _ int) (string, bool) {
		origin = strings.TrimSpace(origin)
		return origin, origin != ""
	})
}
