// Package sse exposes a shared MCP server over HTTP: each client opens a
// long-lived event stream that carries protocol replies, and posts its
// requests to a per-session message endpoint announced on that stream.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const shutdownGrace = 5 * time.Second

// Server bridges HTTP clients to a protocol server.
type Server struct {
	mcp      *server.MCPServer
	registry *Registry
	log      *zap.SugaredLogger

	httpServer *http.Server
}

func NewServer(mcp *server.MCPServer, log *zap.SugaredLogger) *Server {
	return &Server{
		mcp:      mcp,
		registry: NewRegistry(),
		log:      log,
	}
}

// Handler returns the routed HTTP handler. Split from Start so tests can
// drive the routes without binding a port.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(corsMiddleware)
	router.Get("/sse", s.handleSSE)
	router.Post("/messages", s.handleMessages)
	router.Get("/ping", s.handlePing)
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return router
}

// Start serves until ctx is cancelled or the listener fails. Cancellation
// tears down open streams first so in-flight event handlers unwind before
// the graceful shutdown deadline.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Infow("serving", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.registry.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// handleSSE owns one client connection: announce the message endpoint for
// this session, then forward queued protocol replies until the client goes
// away or the server shuts down.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	st := s.registry.Add()
	defer s.registry.Remove(st.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: endpoint\ndata: /messages?sessionId=%s\n\n", st.ID())
	flusher.Flush()

	s.log.Infow("client connected", "sessionId", st.ID(), "open", s.registry.Len())

	for {
		select {
		case <-r.Context().Done():
			s.log.Infow("client disconnected", "sessionId", st.ID())
			return
		case <-st.done:
			return
		case msg := <-st.outbound:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// handleMessages accepts a JSON-RPC request on behalf of an open session.
// The reply travels back on the session's event stream, not on this
// response, which only acknowledges receipt.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}
	st := s.registry.Get(sessionID)
	if st == nil {
		http.Error(w, "unknown sessionId", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}

	// Notifications produce no reply; everything else is queued for the
	// stream pump.
	if reply := s.mcp.HandleMessage(r.Context(), body); reply != nil {
		data, err := json.Marshal(reply)
		if err != nil {
			s.log.Errorw("marshal protocol reply", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err := st.Send(r.Context(), data); err != nil {
			s.log.Warnw("reply dropped, stream gone", "sessionId", sessionID, "error", err)
		}
	}

	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("Accepted"))
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("pong"))
}
