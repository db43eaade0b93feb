package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teleprompt/teleprompt/pkg/config"
	"github.com/teleprompt/teleprompt/pkg/logger"
	"github.com/teleprompt/teleprompt/pkg/mailbox"
	"github.com/teleprompt/teleprompt/pkg/payload"
)

const apiKeyHeader = "X-Api-Key"

// Server is the HTTP façade over the single-slot mailbox. Both authenticated
// endpoints compare the X-Api-Key header against the configured shared
// secret; a server configured without a secret rejects every call.
type Server struct {
	cfg config.ServerConfig
	box *mailbox.Mailbox
}

func New(cfg config.ServerConfig, box *mailbox.Mailbox) *Server {
	return &Server{cfg: cfg, box: box}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Post("/upload", s.handleUpload)
	r.Get("/fetch", s.handleFetch)
	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully. A restart starts with an empty mailbox; there is no state to
// recover.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("server", "Relay server listening", map[string]interface{}{
			"addr": addr,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.APIKey == "" {
		return false
	}
	provided := r.Header.Get(apiKeyHeader)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.APIKey)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	maxBytes := s.cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var p payload.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		logger.WarnCF("server", "Rejected malformed upload body", map[string]interface{}{
			"error": err.Error(),
		})
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	// Payload age is anchored to the server clock, not the client's.
	p.Timestamp = time.Now().UnixMilli()
	s.box.Put(p)

	logger.DebugCF("server", "Payload stored", map[string]interface{}{
		"has_image": p.HasImage(),
		"has_text":  p.HasText(),
	})
	writeJSON(w, http.StatusOK, payload.UploadResponse{OK: true})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	p, found := s.box.Drain()
	if !found {
		writeJSON(w, http.StatusOK, payload.FetchResponse{Found: false})
		return
	}

	logger.DebugCF("server", "Payload drained", map[string]interface{}{
		"has_image": p.HasImage(),
		"has_text":  p.HasText(),
	})
	writeJSON(w, http.StatusOK, payload.FetchResponse{Found: true, Payload: &p})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
