// Package server exposes submission, search and live progress over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"github.com/xhad/verdikt/pkg/auth"
	"github.com/xhad/verdikt/pkg/search"
	"github.com/xhad/verdikt/pkg/submit"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Authenticator interface {
	Authenticate(r *http.Request) (auth.Identity, error)
}

type Submitter interface {
	Submit(ctx context.Context, channelKey, text string) (submit.Receipt, error)
}

type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]models.DocumentGroup, error)
}

type Subscriber interface {
	Subscribe(channelKey string) (<-chan models.ProgressEvent, func())
}

// Counter reports a size for the health endpoint, such as stored vectors or
// queued jobs.
type Counter func(ctx context.Context) (int, error)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration // per websocket write
	Logger       *zap.Logger
}

type Deps struct {
	Auth       Authenticator
	Submitter  Submitter
	Searcher   Searcher
	Subscriber Subscriber
	// Health counters, keyed by the name they are reported under.
	Counters map[string]Counter
}

type Server struct {
	config Config
	deps   Deps
	logger *zap.Logger
	http   *http.Server
}

func New(config Config, deps Deps) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	s := &Server{config: config, deps: deps, logger: config.Logger}
	s.http = &http.Server{
		Addr:        config.Addr,
		Handler:     s.Handler(),
		ReadTimeout: config.ReadTimeout,
		// WriteTimeout is applied per websocket write, not server-wide.
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/decisions", s.authenticated(s.handleSubmit))
	mux.HandleFunc("POST /api/search", s.authenticated(s.handleSearch))
	mux.HandleFunc("GET /ws/progress", s.handleProgress)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type identityHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity)

func (s *Server) authenticated(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.deps.Auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r, id)
	}
}

type submitRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	receipt, err := s.deps.Submitter.Submit(r.Context(), id.ChannelKey, req.Text)
	if err != nil {
		s.writeKindError(w, "submit", err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

type searchResponse struct {
	Results []models.DocumentGroup `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req search.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	groups, err := s.deps.Searcher.Search(r.Context(), req)
	if err != nil {
		s.writeKindError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: groups})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	for name, count := range s.deps.Counters {
		n, err := count(r.Context())
		if err != nil {
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			resp["status"] = "degraded"
			resp[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		resp[name] = n
	}
	writeJSON(w, status, resp)
}

func (s *Server) writeKindError(w http.ResponseWriter, op string, err error) {
	if types.KindOf(err) == types.KindInput {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
