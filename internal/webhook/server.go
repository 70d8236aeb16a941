// Package webhook exposes the HTTP front end: liveness probe, subscription
// verification handshake and the notification callback that drives the
// parse -> complete -> send relay.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"progbot/internal/config"
	"progbot/internal/metrics"
	"progbot/internal/whatsapp"
)

// Completer generates a reply for an inbound message.
type Completer interface {
	Complete(ctx context.Context, userText string) (string, error)
}

// Messenger sends a free-text message back to the originating chat.
type Messenger interface {
	SendText(ctx context.Context, message string, recipient string) (int, error)
}

// Server is the webhook dispatcher. It holds no cross-request state; each
// callback is handled independently.
type Server struct {
	cfg       config.ServerConfig
	verify    string
	completer Completer
	messenger Messenger
	metrics   *metrics.Metrics
	logger    *slog.Logger
	mux       *http.ServeMux
	server    *http.Server
}

type ServerConfig struct {
	Config    config.ServerConfig
	Verify    string // shared secret for the subscription handshake
	Completer Completer
	Messenger Messenger
	Metrics   *metrics.Metrics
	MetricsAt string // mount path for the metrics handler, "" to disable
	Logger    *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:       cfg.Config,
		verify:    cfg.Verify,
		completer: cfg.Completer,
		messenger: cfg.Messenger,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}

	path := s.cfg.WebhookPath
	if path == "" {
		path = "/webhook"
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /{$}", s.handleAlive)
	s.mux.HandleFunc("GET "+path, s.handleVerification)
	s.mux.HandleFunc("POST "+path, s.handleCallback)
	if cfg.Metrics != nil && cfg.MetricsAt != "" {
		s.mux.Handle("GET "+cfg.MetricsAt, cfg.Metrics.Handler())
	}
	return s
}

// Handler returns the HTTP handler (exposed for tests).
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "addr", s.server.Addr, "path", s.cfg.WebhookPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

// handleAlive answers the liveness probe with a fixed body.
func (s *Server) handleAlive(rw http.ResponseWriter, r *http.Request) {
	s.count("alive", http.StatusOK)
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, "progbot is alive")
}

// handleVerification handles the subscription handshake: the platform sends
// hub.verify_token and hub.challenge, and expects the challenge echoed back
// as an integer when the token matches.
func (s *Server) handleVerification(rw http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if token != s.verify || challenge == "" {
		s.logger.Warn("webhook verification failed")
		s.countVerification("denied")
		s.count("verify", http.StatusForbidden)
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	n, err := strconv.Atoi(challenge)
	if err != nil {
		s.logger.Warn("webhook verification challenge is not numeric", "challenge", challenge)
		s.countVerification("denied")
		s.count("verify", http.StatusBadRequest)
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	s.logger.Info("webhook verified")
	s.countVerification("verified")
	s.count("verify", http.StatusOK)
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, strconv.Itoa(n))
}

// handleCallback relays one inbound notification: parse the payload, ask the
// completion API for a reply, send the reply back to the sender. Failures in
// the completion or send step surface as 502 instead of a blanket success.
func (s *Server) handleCallback(rw http.ResponseWriter, r *http.Request) {
	rid := uuid.NewString()
	log := s.logger.With("request_id", rid)

	var payload whatsapp.Notification
	body := io.LimitReader(r.Body, 1<<20) // 1MB max
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		log.Warn("callback bad payload", "err", err)
		s.fail("decode")
		s.respond(rw, "callback", http.StatusBadRequest, "error")
		return
	}

	result := whatsapp.ParseNotification(payload)
	if !result.Actionable() {
		log.Debug("callback has no text message", "status", result.StatusCode)
		s.respond(rw, "callback", http.StatusOK, "ignored")
		return
	}

	log.Info("message received", "from", result.Sender, "text_len", len(result.Body))

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.RelayTimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	reply, err := s.completer.Complete(ctx, result.Body)
	if s.metrics != nil {
		s.metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Error("completion failed", "err", err)
		s.fail("complete")
		s.respond(rw, "callback", http.StatusBadGateway, "error")
		return
	}

	if _, err := s.messenger.SendText(ctx, reply, result.Sender); err != nil {
		log.Error("send failed", "err", err, "to", result.Sender)
		s.fail("send")
		s.respond(rw, "callback", http.StatusBadGateway, "error")
		return
	}

	log.Info("message relayed", "to", result.Sender, "reply_len", len(reply))
	if s.metrics != nil {
		s.metrics.MessagesRelayed.Inc()
	}
	s.respond(rw, "callback", http.StatusOK, "success")
}

func (s *Server) respond(rw http.ResponseWriter, handler string, code int, status string) {
	s.count(handler, code)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(map[string]string{"status": status})
}

func (s *Server) count(handler string, code int) {
	if s.metrics == nil {
		return
	}
	s.metrics.WebhookRequests.WithLabelValues(handler, strconv.Itoa(code)).Inc()
}

func (s *Server) countVerification(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Verifications.WithLabelValues(result).Inc()
}

func (s *Server) fail(stage string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RelayFailures.WithLabelValues(stage).Inc()
}
