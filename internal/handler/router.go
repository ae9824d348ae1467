package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/journeyman/messaging/internal/middleware"
	"github.com/journeyman/messaging/internal/observability"
	"github.com/journeyman/messaging/internal/storage"
	"github.com/journeyman/messaging/internal/ws"
)

// RouterConfig carries what the HTTP surface needs from config.
type RouterConfig struct {
	JWTSecret          string
	MetricsSecret      string
	CORSAllowedOrigins string
	RateLimitPerIP     int
	RateLimitPerUser   int
	Client             ws.ClientOptions
	// AccessLog enables chi's per-request access log.
	AccessLog bool
}

// NewRouter mounts /health, /metrics, /ws and the /api routes.
func NewRouter(hub *ws.Hub, msgs storage.MessageStore, users storage.UserStore, cfg RouterConfig) http.Handler {
	wsH := NewWSHandler(hub, cfg.CORSAllowedOrigins, cfg.Client)
	msgH := NewMessageHandler(hub, msgs, users)
	presenceH := NewPresenceHandler(hub)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	if cfg.AccessLog {
		r.Use(chimw.Logger)
	}
	r.Use(middleware.RecoverJSON)
	// Compression breaks http.Hijacker, so the WebSocket upgrade bypasses it.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(observability.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret))
		r.Get("/ws", wsH.ServeWS)

		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitPerIP, cfg.RateLimitPerUser, time.Minute))
			r.Get("/conversations", msgH.GetConversations)
			r.Get("/conversations/{conversationId}/unread", msgH.GetUnread)
			r.Get("/chat/{userId}", msgH.GetMessages)
			r.Post("/chat/{userId}/read", msgH.MarkAsRead)
			r.Get("/users/{userId}/presence", presenceH.GetPresence)
		})
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
