package transport

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/infra/protocol"
	"github.com/Soflution1/mcp-on-demand/internal/telemetry"
)

// session is one connected SSE client: an id, and an outbound queue
// of already-encoded JSON-RPC frames waiting to be flushed onto its
// event stream (spec §4.F).
type session struct {
	id  string
	out chan []byte
}

// SSE implements spec §4.F: sessions are created on transport
// connect (GET the stream endpoint), and every POST to the message
// endpoint carrying a session id is decoded, dispatched through the
// router, and the response queued onto that session's stream. Safe
// for concurrent dispatch across sessions (spec §4.F).
type SSE struct {
	dispatch   Dispatcher
	streamPath string
	msgPath    string
	metrics    *telemetry.Metrics
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSSE constructs an SSE transport. streamPath is where clients GET
// to open an event stream (default "/sse"); msgPath is where they
// POST JSON-RPC bodies (default "/message").
func NewSSE(dispatch Dispatcher, streamPath, msgPath string, metrics *telemetry.Metrics, logger *zap.Logger) *SSE {
	if streamPath == "" {
		streamPath = "/sse"
	}
	if msgPath == "" {
		msgPath = "/message"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSE{
		dispatch:   dispatch,
		streamPath: streamPath,
		msgPath:    msgPath,
		metrics:    metrics,
		logger:     logger.Named("transport.sse"),
		sessions:   make(map[string]*session),
	}
}

// Handler returns an http.Handler serving both the stream and message
// endpoints, ready to pass to http.Server or mux.Handle.
func (s *SSE) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.streamPath, s.handleStream)
	mux.HandleFunc(s.msgPath, s.handleMessage)
	return mux
}

func (s *SSE) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := &session{id: uuid.NewString(), out: make(chan []byte, 64)}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	if s.metrics != nil {
		s.metrics.SetActiveSessions(len(s.sessions))
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		if s.metrics != nil {
			s.metrics.SetActiveSessions(len(s.sessions))
		}
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: %s?session_id=%s\n\n", s.msgPath, sess.id)
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case frame, ok := <-sess.out:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

func (s *SSE) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	req, err := protocol.ParseRequest(body)
	if err != nil {
		s.logger.Warn("unparseable message", zap.String("session", sessionID), zap.Error(err))
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	if req == nil {
		return
	}

	resp := s.dispatch(r.Context(), req)
	if resp == nil {
		return
	}

	var frame []byte
	if resp.Error != nil {
		frame, err = protocol.EncodeError(resp.ID, resp.Error.Code, resp.Error.Message)
	} else {
		frame, err = protocol.EncodeResult(resp.ID, resp.Result)
	}
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		return
	}

	select {
	case sess.out <- frame:
	default:
		s.logger.Warn("session outbound queue full, dropping frame", zap.String("session", sessionID))
	}
}

// SessionCount returns the number of live SSE sessions.
func (s *SSE) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
