package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tolelom/cipherforge/events"
)

// ServerConfig holds the HTTP-level policy of a Server.
type ServerConfig struct {
	AuthToken string  // empty → no auth required
	RPS       float64 // per-IP request rate; 0 → unlimited
	Burst     int
}

// Server is a JSON-RPC 2.0 HTTP server with a websocket event stream on /ws.
type Server struct {
	handler *Handler
	addr    string
	cfg     ServerConfig
	limiter *ipLimiter
	hub     *hub
	log     zerolog.Logger
	srv     *http.Server
}

// NewServer creates a Server on addr. If cfg.AuthToken is non-empty, every
// request must carry a matching "Authorization: Bearer <token>" header
// (websocket clients may pass ?token= instead).
func NewServer(addr string, handler *Handler, emitter *events.Emitter, cfg ServerConfig, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "rpc").Logger()
	s := &Server{
		handler: handler,
		addr:    addr,
		cfg:     cfg,
		hub:     newHub(emitter, logger),
		log:     logger,
	}
	if cfg.RPS > 0 {
		s.limiter = newIPLimiter(cfg.RPS, cfg.Burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveHTTP)
	mux.HandleFunc("/ws", s.hub.serveWS)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.guard(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler, middleware included.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("rpc listening")
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("rpc server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// guard applies rate limiting and bearer auth ahead of every route.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(r.RemoteAddr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errResponse(nil, CodeRateLimited, "rate limit exceeded"))
			return
		}
		if s.cfg.AuthToken != "" && !s.authorized(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(errResponse(nil, CodeUnauthorized, "unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if r.Header.Get("Authorization") == "Bearer "+s.cfg.AuthToken {
		return true
	}
	return r.URL.Path == "/ws" && r.URL.Query().Get("token") == s.cfg.AuthToken
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	// Limit request body to 1 MB to prevent memory exhaustion.
	r.Body = http.MaxBytesReader(w, r.Body, 1*1024*1024)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}

	resp := s.handler.Dispatch(req)
	if resp.Error != nil {
		s.log.Debug().Str("method", req.Method).Int("code", resp.Error.Code).Msg(resp.Error.Message)
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
