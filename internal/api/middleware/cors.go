package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig supplies CORS settings. api.CORSConfig implements it.
type CORSConfig interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// CORS handles Cross-Origin Resource Sharing. Preflight requests are
// answered with 204 and never reach the handler.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(config.GetAllowedMethods(), ", ")
	headers := strings.Join(config.GetAllowedHeaders(), ", ")

	maxAge := ""
	if config.GetMaxAge() > 0 {
		maxAge = strconv.Itoa(config.GetMaxAge())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			setAllowOrigin(h, r.Header.Get("Origin"), config.GetAllowedOrigins())

			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}

			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}

			if maxAge != "" {
				h.Set("Access-Control-Max-Age", maxAge)
			}

			h.Set("Access-Control-Expose-Headers", CorrelationIDHeader)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setAllowOrigin(h http.Header, origin string, allowed []string) {
	if len(allowed) == 0 {
		return
	}

	if len(allowed) == 1 && allowed[0] == "*" {
		h.Set("Access-Control-Allow-Origin", "*")

		return
	}

	h.Add("Vary", "Origin")

	if origin != "" && slices.Contains(allowed, origin) {
		h.Set("Access-Control-Allow-Origin", origin)
	}
}
