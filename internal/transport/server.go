// Package transport moves league frames over localhost HTTP. One POST path
// carries all JSON-RPC traffic; routing is by envelope message type inside
// the dispatcher, never by URL.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openleague/league-manager/internal/audit"
	"github.com/openleague/league-manager/internal/protocol"
)

// MaxBodySize limits request bodies to 1MB.
const MaxBodySize = 1048576

// Dispatcher routes a validated envelope to its handler. Implementations
// return the response envelope and payload, or an error the server converts
// to a JSON-RPC error object.
type Dispatcher interface {
	// Role names the process role reported by /health.
	Role() string
	// Dispatch handles one message. The raw payload is message-type specific.
	Dispatch(ctx context.Context, env *protocol.Envelope, payload json.RawMessage) (*protocol.Envelope, interface{}, error)
	// StatusCounters returns the role-specific counters served by /status.
	StatusCounters(ctx context.Context) map[string]interface{}
}

// ServerConfig wires a Server.
type ServerConfig struct {
	Dispatcher     Dispatcher
	Audit          audit.Sink
	Logger         *zap.Logger
	AllowedOrigins []string
}

// Server is the HTTP face of one process role.
type Server struct {
	dispatcher Dispatcher
	audit      audit.Sink
	logger     *zap.SugaredLogger
	origins    []string
}

func NewServer(cfg ServerConfig) *Server {
	sink := cfg.Audit
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Server{
		dispatcher: cfg.Dispatcher,
		audit:      sink,
		logger:     cfg.Logger.Sugar(),
		origins:    cfg.AllowedOrigins,
	}
}

// Router builds the chi router: /mcp for protocol traffic, /health /status
// /metrics for operations. No other paths exist.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}
	r.Post("/mcp", s.handleMCP)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"role":      s.dispatcher.Role(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.StatusCounters(r.Context()))
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	req, perr := protocol.DecodeRequest(body)
	if perr != nil && perr.Code == protocol.CodeParseError {
		// Malformed bytes never get a JSON-RPC response, but the attempt is
		// still audited.
		framesRejected.Inc()
		s.audit.Append(audit.NewRecord(audit.DirRequest, "unknown", s.dispatcher.Role(), "", body))
		http.Error(w, "malformed JSON-RPC body", http.StatusBadRequest)
		return
	}

	var env *protocol.Envelope
	source, conversationID, id := "unknown", "", ""
	if req != nil {
		id = req.ID
		if req.Params != nil && req.Params.Envelope != nil {
			env = req.Params.Envelope
			source = env.Sender
			conversationID = env.ConversationID
		}
	}

	// Log-before-commit: the inbound frame hits the audit trail before any
	// handler runs.
	s.audit.Append(audit.NewRecord(audit.DirRequest, source, s.dispatcher.Role(), conversationID, body))

	var resp *protocol.Response
	switch {
	case perr != nil:
		framesRejected.Inc()
		resp = protocol.NewErrorResponse(id, perr)
	default:
		framesReceived.WithLabelValues(string(env.MessageType)).Inc()
		respEnv, payload, derr := s.dispatcher.Dispatch(r.Context(), env, req.Params.Payload)
		if derr != nil {
			pe := protocol.AsError(derr).WithEnvelope(env)
			dispatchErrors.WithLabelValues(strconv.Itoa(pe.Code)).Inc()
			if pe.Code == protocol.CodeInternalError {
				s.logger.Errorw("Dispatch failed",
					"message_type", env.MessageType,
					"conversation_id", env.ConversationID,
					"error", derr,
				)
			}
			resp = protocol.NewErrorResponse(id, pe)
		} else {
			var rerr error
			resp, rerr = protocol.NewResultResponse(id, respEnv, payload)
			if rerr != nil {
				s.logger.Errorw("Failed to encode response", "error", rerr)
				resp = protocol.NewErrorResponse(id, protocol.NewError(protocol.CodeInternalError, "internal error"))
			}
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	s.audit.Append(audit.NewRecord(audit.DirResponse, s.dispatcher.Role(), source, conversationID, out))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.logger.Infow("HTTP server started", "role", s.dispatcher.Role(), "port", port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
