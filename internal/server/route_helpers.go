package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/ternarybob/portalwatch/internal/handlers"
)

// byMethod dispatches on the request method. Other methods get a JSON 405 with
// an Allow header listing the supported ones.
func byMethod(routes map[string]http.HandlerFunc) http.HandlerFunc {
	allowed := make([]string, 0, len(routes))
	for method := range routes {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	allow := strings.Join(allowed, ", ")

	return func(w http.ResponseWriter, r *http.Request) {
		if h, ok := routes[r.Method]; ok {
			h(w, r)
			return
		}
		w.Header().Set("Allow", allow)
		handlers.WriteError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
	}
}
