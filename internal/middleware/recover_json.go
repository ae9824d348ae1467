package middleware

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/observability"
)

// trackingWriter remembers whether the handler already started the response.
// It implements http.Hijacker so the WebSocket upgrade still works through it.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *trackingWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.wrote = true
		f.Flush()
	}
}

func (w *trackingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.wrote = true
	return h.Hijack()
}

// RecoverJSON logs a handler panic with its stack and answers JSON 500 unless a
// response was already started. http.ErrAbortHandler is re-raised.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			observability.IncHTTPPanic()
			logger.Errorf("panic recovered %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			if tw.wrote {
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(errorBody{Error: "internal server error"})
		}()
		next.ServeHTTP(tw, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}
