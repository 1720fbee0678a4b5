package supervisor

import (
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
	"github.com/chrisalpuerto/parallel-sessions/pkg/telemetry"
)

// ErrUnknownSession is returned by Deliver for an id the current run does not have.
var ErrUnknownSession = errors.New("unknown session")

// Deliver stores payload in the session's gate and wakes it. A payload sent
// while the pipeline is not waiting is kept until the next suspend clears it;
// of several payloads sent before a wake only the latest is seen.
func (s *Supervisor) Deliver(sessionID int, payload json.RawMessage) error {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()

	var t *tracked
	if run != nil {
		t = run.sessions[sessionID]
	}
	if t == nil {
		s.logger.Warn("command for unknown session", "session_id", sessionID)
		commandsDelivered.WithLabelValues("unknown").Inc()
		return apperrors.Wrap(ErrUnknownSession, apperrors.ErrCodeSessionNotFound, "unknown session").
			WithContext("session_id", sessionID)
	}

	t.gate.Signal(payload)
	commandsDelivered.WithLabelValues("delivered").Inc()
	s.logger.WithRun(run.info.ID).CommandDelivered(sessionID, len(payload))
	s.events.Publish(telemetry.Event{
		Type:      telemetry.EventCommandDelivered,
		Timestamp: time.Now(),
		RunID:     run.info.ID,
		SessionID: sessionID,
		Status:    t.sess.Status().String(),
	})
	return nil
}
