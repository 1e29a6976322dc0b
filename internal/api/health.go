package api

import (
	"context"
	"net/http"
)

const version = "1.0.0"

type QueueDepth interface {
	Depth(ctx context.Context) (ready, inflight int64, err error)
}

type ClientCounter interface {
	ClientCount() int
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	QueueReady       int64  `json:"queue_ready"`
	QueueInflight    int64  `json:"queue_inflight"`
	WebSocketClients int    `json:"websocket_clients"`
}

// HealthHandler reports the queue backlog. An unreachable queue makes the
// hub degraded since nothing can be confirmed or delivered.
func HealthHandler(q QueueDepth, clients ClientCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:           "healthy",
			Version:          version,
			WebSocketClients: clients.ClientCount(),
		}

		ready, inflight, err := q.Depth(r.Context())
		if err != nil {
			resp.Status = "degraded"
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.QueueReady = ready
		resp.QueueInflight = inflight

		respondJSON(w, http.StatusOK, resp)
	}
}
