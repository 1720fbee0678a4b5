package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"

	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
	"github.com/chrisalpuerto/parallel-sessions/pkg/supervisor"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"message": "Server is up and running"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{"status": "ok"}
	if s.cfg.Version != "" {
		payload["version"] = s.cfg.Version
	}
	respondJSON(w, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type startTestRequest struct {
	TargetURL  string `json:"target_url"`
	UseProxies bool   `json:"use_proxies"`
	Sessions   int    `json:"sessions"`
}

type startTestResponse struct {
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

func (s *Server) handleStartTest(w http.ResponseWriter, r *http.Request) {
	var req startTestRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesSmall, true); err != nil {
		respondError(w, status, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid start request"))
		return
	}
	info, err := s.ctrl.StartRun(r.Context(), supervisor.StartRequest{
		TargetURL:  req.TargetURL,
		UseProxies: req.UseProxies,
		Count:      req.Sessions,
	})
	if err != nil {
		s.logger.Warn("start rejected", "error", err)
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, startTestResponse{
		Message: fmt.Sprintf("%d Sessions Launched", info.Count),
		RunID:   info.ID,
	})
}

type stopTestResponse struct {
	Message     string `json:"message"`
	KilledCount int    `json:"killed_count"`
}

func (s *Server) handleStopTest(w http.ResponseWriter, r *http.Request) {
	killed := s.ctrl.StopRun()
	respondJSON(w, stopTestResponse{
		Message:     fmt.Sprintf("Sent kill signal to %d active bots", killed),
		KilledCount: killed,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.ctrl.Sessions())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.wsLimiter.Acquire() {
		respondError(w, http.StatusServiceUnavailable, stdliberrors.New("too many observers"))
		return
	}
	defer s.wsLimiter.Release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxWSReadBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	startWSPing(ctx, conn, wsPingInterval)
	s.serveObserver(ctx, s.hub.Attach(conn))
}

// serveObserver pumps obs until either direction of its socket fails, then
// detaches and closes it.
func (s *Server) serveObserver(ctx context.Context, obs *Observer) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		s.readCommands(ctx, obs)
	}()
	go func() {
		defer cancel()
		if err := obs.writeLoop(ctx); err != nil && ctx.Err() == nil {
			s.logger.ObserverDropped(obs.ID(), err.Error())
			observersDropped.WithLabelValues("write_failed").Inc()
		}
	}()

	<-ctx.Done()
	s.hub.Detach(obs)
	obs.close(websocket.StatusNormalClosure, "bye")
}

// readCommands feeds inbound messages to the supervisor until the socket
// closes. Malformed messages and unknown sessions are logged and skipped.
func (s *Server) readCommands(ctx context.Context, obs *Observer) {
	for {
		_, data, err := obs.conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := parseCommand(data)
		if err != nil {
			s.logger.Warn("ignoring malformed command", "observer_id", obs.ID(), "error", err)
			continue
		}
		if err := s.ctrl.Deliver(msg.SessionID, msg.Command); err != nil {
			if !stdliberrors.Is(err, supervisor.ErrUnknownSession) {
				s.logger.Warn("command delivery failed", "session_id", msg.SessionID, "error", err)
			}
		}
	}
}

type inboundCommand struct {
	SessionID int
	Command   json.RawMessage
}

// parseCommand reads {"session_id": 1, "command": ...}. The id may also be a
// numeric string.
func parseCommand(data []byte) (inboundCommand, error) {
	var raw struct {
		SessionID json.RawMessage `json:"session_id"`
		Command   json.RawMessage `json:"command"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return inboundCommand{}, err
	}
	id, err := parseSessionID(raw.SessionID)
	if err != nil {
		return inboundCommand{}, err
	}
	if len(bytes.TrimSpace(raw.Command)) == 0 {
		return inboundCommand{}, stdliberrors.New("command is required")
	}
	return inboundCommand{SessionID: id, Command: raw.Command}, nil
}

func parseSessionID(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, stdliberrors.New("session_id is required")
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, fmt.Errorf("session_id must be a number: %s", raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(str))
	if err != nil {
		return 0, fmt.Errorf("session_id must be a number: %q", str)
	}
	return n, nil
}

// originPatterns turns the allowed origins into websocket host patterns.
func (s *Server) originPatterns() []string {
	patterns := make([]string, 0, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if i := strings.Index(origin, "://"); i >= 0 {
			origin = origin[i+3:]
		}
		patterns = append(patterns, origin)
	}
	return patterns
}
