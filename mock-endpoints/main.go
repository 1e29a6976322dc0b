// Command mock-endpoints is a subscriber for exercising the hub locally. It
// answers confirmation challenges and accepts, delays or refuses pushes
// depending on the callback path.
package main

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type subscriber struct {
	secret   string
	delay    time.Duration
	logger   *slog.Logger
	requests atomic.Int64
	badSigs  atomic.Int64
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	s := &subscriber{
		secret: os.Getenv("HUB_SECRET"),
		delay:  3 * time.Second,
		logger: logger,
	}

	logger.Info("mock subscriber starting",
		"port", port,
		"routes", []string{
			"GET  /callback/{behavior} -> echoes hub.challenge (mismatch echoes garbage)",
			"POST /callback/success    -> 200",
			"POST /callback/slow       -> 200 after 3s",
			"POST /callback/fail       -> 500",
			"POST /callback/gone       -> 410",
			"GET  /stats               -> request counts",
		},
	)

	if err := http.ListenAndServe(":"+port, s.routes()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (s *subscriber) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/callback/{behavior}", s.verify)
	r.Post("/callback/{behavior}", s.receive)
	r.Get("/stats", s.stats)
	return r
}

// verify answers the hub's intent verification.
func (s *subscriber) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.logger.Info("verification request",
		"mode", q.Get("hub.mode"),
		"topic", q.Get("hub.topic"),
		"lease_seconds", q.Get("hub.lease_seconds"),
	)

	challenge := q.Get("hub.challenge")
	if chi.URLParam(r, "behavior") == "mismatch" {
		challenge = "not-the-challenge"
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(challenge))
}

func (s *subscriber) receive(w http.ResponseWriter, r *http.Request) {
	count := s.requests.Add(1)
	behavior := chi.URLParam(r, "behavior")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Hub-Signature")
	valid := s.secret == "" || validSignature(body, s.secret, signature)
	if !valid {
		s.badSigs.Add(1)
	}

	status := http.StatusOK
	switch behavior {
	case "slow":
		time.Sleep(s.delay)
	case "fail":
		status = http.StatusInternalServerError
	case "gone":
		status = http.StatusGone
	}

	s.logger.Info("push received",
		"request", count,
		"behavior", behavior,
		"status", status,
		"bytes", len(body),
		"signature", truncate(signature, 16),
		"signature_valid", valid,
		"link", r.Header.Get("Link"),
	)

	// A subscriber acknowledges a push with a bad signature and drops it.
	w.WriteHeader(status)
}

func (s *subscriber) stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{
		"total_requests":     s.requests.Load(),
		"invalid_signatures": s.badSigs.Load(),
	})
}

func validSignature(body []byte, secret, header string) bool {
	got, ok := strings.CutPrefix(header, "sha1=")
	if !ok {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(got), []byte(want))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
