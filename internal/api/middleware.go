package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/auth"
	"ms-boxoffice/internal/logger"
)

// accessLog writes one API line per request.
func accessLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(status), time.Since(start).String())
		})
	}
}

// requireElevated rejects callers that are not cashiers or admins.
func requireElevated(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.FromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, APIResponse{Message: "authentication required", Code: apperr.Unauthorized, Timestamp: nowUTC()})
				return
			}
			if !id.Role.Elevated() {
				log.LogSecurity("ROLE_DENIED", fmt.Sprintf("%s %s by %s", r.Method, r.URL.Path, id.UserID))
				writeJSON(w, http.StatusForbidden, APIResponse{Message: "insufficient role", Code: apperr.Forbidden, Timestamp: nowUTC()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
