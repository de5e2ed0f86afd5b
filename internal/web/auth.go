package web

import (
	"net/http"
	"strings"

	"github.com/certstream/certstream-core-go/internal/config"
)

// requireBearerAuth implements the contract spec.md §6 describes for
// the (externally supplied) bearer-token middleware: if auth is
// enabled, requests must carry "<header_name>: Bearer <token>" with
// token in the configured set, else 401. Applies to WS and SSE, never
// to TCP (spec.md §6).
func requireBearerAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := config.AppConfig().Auth
		if !auth.Enabled {
			next(w, r)
			return
		}

		header := r.Header.Get(auth.HeaderName)
		token := strings.TrimPrefix(header, "Bearer ")

		if header == "" || token == header {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		for _, allowed := range auth.Tokens {
			if token == allowed {
				next(w, r)
				return
			}
		}

		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}
