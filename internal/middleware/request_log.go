package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/journeyman/messaging/internal/logger"
)

// slowRequest is the threshold above which a request is logged at warn level.
const slowRequest = 2 * time.Second

// RequestLog records status and duration of each request through the async
// logger. WebSocket upgrades are logged once, when the upgrade returns.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)
		if elapsed > slowRequest {
			logger.Warnf("http slow %s %s status=%d took=%v", r.Method, r.URL.Path, ww.Status(), elapsed)
			return
		}
		logger.Debugf("http %s %s status=%d bytes=%d took=%v", r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), elapsed)
	})
}
