package web

import (
	"net/http"

	"github.com/IvanBrykalov/scopecache/scope"
)

// RequestScope opens a request scope of rs for the duration of each
// request. The scope ends even when the handler panics.
func RequestScope(rs *scope.RequestScoper) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := rs.Start(r.Context())
			defer rs.End(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
