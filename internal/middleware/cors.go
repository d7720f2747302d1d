package middleware

import (
	"net/http"
	"strings"
)

// OriginAllowed 返回来源判定函数，allowed 为空或包含 "*" 时放行所有来源。
func OriginAllowed(allowed []string) func(origin string) bool {
	allowAll := len(allowed) == 0
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		origins[o] = struct{}{}
	}

	return func(origin string) bool {
		if allowAll {
			return true
		}
		_, ok := origins[origin]
		return ok
	}
}

// CORS 允许配置的来源跨域访问 API。
func CORS(allowed []string) func(http.Handler) http.Handler {
	allow := OriginAllowed(allowed)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allow(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
