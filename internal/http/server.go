package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"example.com/bt-action-bridge/internal/agent/behavior"
	"example.com/bt-action-bridge/internal/db"
)

// Server exposes the agent's node manifest, dispatch history and live
// transition stream.
type Server struct {
	Nodes  *behavior.Factory
	DB     *db.DB
	Events *EventBroker
	log    *zap.Logger
}

func NewServer(nodes *behavior.Factory, dbConn *db.DB, events *EventBroker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Nodes: nodes, DB: dbConn, Events: events, log: logger.Named("http")}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/ports", s.handlePorts)
	mux.HandleFunc("/api/dispatches", s.handleDispatches)
	if s.Events != nil {
		mux.Handle("/api/events", s.Events)
		mux.HandleFunc("/api/events/ws", s.Events.ServeWS)
	}
	return mux
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.Events != nil {
		// Streams never finish on their own.
		s.Events.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handlePorts lists every node type with its ports, or one type with ?type=.
func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.Nodes == nil {
		respondError(w, http.StatusServiceUnavailable, "no node factory")
		return
	}
	typeName := r.URL.Query().Get("type")
	if typeName == "" {
		respondJSON(w, http.StatusOK, s.Nodes.Manifest())
		return
	}
	ports, err := s.Nodes.ProvidedPorts(typeName)
	if err != nil {
		if errors.Is(err, behavior.ErrUnknownNodeType) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, behavior.NodeType{Type: typeName, Ports: ports})
}

func (s *Server) handleDispatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.DB == nil {
		respondError(w, http.StatusServiceUnavailable, "no dispatch history")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := s.DB.ListDispatches(r.Context(), r.URL.Query().Get("node"), limit)
	if err != nil {
		s.log.Warn("list dispatches", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list dispatches")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
