package session

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	// LocalEgress is reported when a session runs without an assigned proxy.
	LocalEgress = "Local"
	// IdleAction is the action label before the pipeline reports anything.
	IdleAction = "Idle"
)

// Record is a point-in-time view of one session. JSON field names match the
// dashboard wire format.
type Record struct {
	ID             int       `json:"instance"`
	EgressIdentity string    `json:"ip"`
	Status         Status    `json:"status"`
	Action         string    `json:"action"`
	Mode           Mode      `json:"option"`
	Email          string    `json:"email"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Snapshot is the full set of records for a run keyed by session id.
type Snapshot map[int]Record

// Sorted returns the snapshot's records ordered by id.
func (s Snapshot) Sorted() []Record {
	out := make([]Record, 0, len(s))
	for _, rec := range s {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Session owns a Record. Mutators are called only by the session's pipeline
// once it has started; readers may call Snapshot from any goroutine.
type Session struct {
	mu  sync.RWMutex
	rec Record
}

// New creates a session in the not_started state.
func New(id int, egress, email string) *Session {
	if egress == "" {
		egress = LocalEgress
	}
	return &Session{rec: Record{
		ID:             id,
		EgressIdentity: egress,
		Status:         StatusNotStarted,
		Action:         IdleAction,
		Mode:           ModeAutomatic,
		Email:          email,
		UpdatedAt:      time.Now(),
	}}
}

// EmailFor renders the contact email for session id from a printf template.
func EmailFor(template string, id int) string {
	if template == "" {
		template = "test%d@example.com"
	}
	return fmt.Sprintf(template, id)
}

// ID returns the immutable session id.
func (s *Session) ID() int {
	return s.rec.ID
}

// Snapshot returns a copy of the current record.
func (s *Session) Snapshot() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Status
}

// SetStatus moves the session to status with the given action label. It
// returns false and leaves the record untouched once a terminal status has
// been recorded.
func (s *Session) SetStatus(status Status, action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Status.IsTerminal() {
		return false
	}
	s.rec.Status = status
	if action != "" {
		s.rec.Action = action
	}
	s.rec.UpdatedAt = time.Now()
	return true
}

// SetAction updates only the fine-grained label.
func (s *Session) SetAction(action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Status.IsTerminal() {
		return false
	}
	s.rec.Action = action
	s.rec.UpdatedAt = time.Now()
	return true
}

// SetMode records the operator's mode choice.
func (s *Session) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Mode = mode
	s.rec.UpdatedAt = time.Now()
}
