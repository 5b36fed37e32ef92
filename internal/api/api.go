// Package api provides HTTP handlers and the main API server logic for
// TriagePipe.
//
// It exposes the chat endpoint that drives one conversation turn, the
// post-call webhook that stores finished-call summaries, a long-poll events
// endpoint for the frontend, and a health check.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/events"
	"github.com/BTreeMap/TriagePipe/internal/flow"
	"github.com/BTreeMap/TriagePipe/internal/notify"
	"github.com/BTreeMap/TriagePipe/internal/store"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8000"

// DefaultLongPollTimeout bounds one GET /chat/events wait.
const DefaultLongPollTimeout = 25 * time.Second

// DefaultShutdownTimeout bounds graceful shutdown on context cancellation.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	Notifier        notify.Sender
	NotifyPhone     string
	LongPollTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithNotifier sets the SMS sender pinged when a call summary arrives.
func WithNotifier(sender notify.Sender) Option {
	return func(o *Opts) { o.Notifier = sender }
}

// WithNotifyPhone sets the phone number that receives summary-ready texts.
func WithNotifyPhone(phone string) Option {
	return func(o *Opts) { o.NotifyPhone = phone }
}

// WithLongPollTimeout overrides how long GET /chat/events waits for a signal.
func WithLongPollTimeout(timeout time.Duration) Option {
	return func(o *Opts) { o.LongPollTimeout = timeout }
}

// Server wires the conversation engine, session store and event registry
// behind HTTP endpoints.
type Server struct {
	engine *flow.TurnEngine
	st     store.Store
	events *events.Registry

	addr            string
	notifier        notify.Sender
	notifyPhone     string
	longPollTimeout time.Duration
}

// NewServer builds an API server around a turn engine. The store must be the
// same one the engine uses so webhook mailbox writes are visible to the next
// turn.
func NewServer(engine *flow.TurnEngine, st store.Store, registry *events.Registry, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("turn engine is required")
	}
	if st == nil {
		return nil, errors.New("session store is required")
	}
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.LongPollTimeout <= 0 {
		cfg.LongPollTimeout = DefaultLongPollTimeout
	}
	if registry == nil {
		registry = events.NewRegistry()
	}
	return &Server{
		engine:          engine,
		st:              st,
		events:          registry,
		addr:            cfg.Addr,
		notifier:        cfg.Notifier,
		notifyPhone:     cfg.NotifyPhone,
		longPollTimeout: cfg.LongPollTimeout,
	}, nil
}

// Handler returns the routed HTTP handler. Exposed separately from Run so
// tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/message", s.chatMessageHandler)
	mux.HandleFunc("/chat/events", s.chatEventsHandler)
	mux.HandleFunc("/webhooks/voicecall/post-call", s.postCallHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run serves HTTP until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: shutdown failed", "error", err)
			return err
		}
		slog.Info("Server.Run: API server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
