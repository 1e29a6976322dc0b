package api

import (
	"net/http"

	ws "github.com/Priya8975/pushhub/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers groups what the router mounts.
type Handlers struct {
	Push      *PushHandler
	Dashboard *DashboardHandler
	Health    http.HandlerFunc
	Hub       *ws.Hub
}

// NewRouter creates and configures the HTTP router.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Use(corsMiddleware)

	// Operator event stream
	r.Get("/ws", h.Hub.HandleWebSocket)

	// Hub endpoint advertised in feeds as rel="hub"
	r.Post("/api/push", h.Push.Update)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/subscriptions/health", h.Dashboard.SubscriptionHealth)
	})

	return r
}

// corsMiddleware adds CORS headers for operator dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
