package session

import "fmt"

// Status is the coarse lifecycle phase of a session.
type Status string

const (
	StatusNotStarted     Status = "not_started"
	StatusStarting       Status = "starting"
	StatusRunning        Status = "running"
	StatusAwaitingOrders Status = "awaiting_orders"
	StatusManualTakeover Status = "manual_takeover"
	StatusRunningAuto    Status = "running_auto"
	StatusInQueue        Status = "in_queue"

	// Suspend points. The pipeline is blocked on its gate while in one of these.
	StatusLoginRequired    Status = "login_required"
	StatusShippingRequired Status = "shipping_required"
	StatusCardRequired     Status = "card_required"
	StatusReceiptRequired  Status = "receipt_required"

	// Terminal states. A session never leaves these.
	StatusFinished Status = "finished"
	StatusComplete Status = "complete"
	StatusSoldOut  Status = "sold_out"
	StatusFailed   Status = "failed"
)

var knownStatuses = map[Status]struct{}{
	StatusNotStarted:       {},
	StatusStarting:         {},
	StatusRunning:          {},
	StatusAwaitingOrders:   {},
	StatusManualTakeover:   {},
	StatusRunningAuto:      {},
	StatusInQueue:          {},
	StatusLoginRequired:    {},
	StatusShippingRequired: {},
	StatusCardRequired:     {},
	StatusReceiptRequired:  {},
	StatusFinished:         {},
	StatusComplete:         {},
	StatusSoldOut:          {},
	StatusFailed:           {},
}

// IsTerminal reports whether no further transition can happen from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusComplete, StatusSoldOut, StatusFailed:
		return true
	}
	return false
}

// IsSuspended reports whether s is a checkpoint waiting on operator input.
func (s Status) IsSuspended() bool {
	switch s {
	case StatusAwaitingOrders, StatusManualTakeover, StatusLoginRequired,
		StatusShippingRequired, StatusCardRequired, StatusReceiptRequired:
		return true
	}
	return false
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

func (s Status) String() string { return string(s) }

// Mode selects whether a session drives itself or hands off to the operator.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// ParseMode accepts the short command forms sent by the dashboard as well as
// the canonical names.
func ParseMode(raw string) (Mode, error) {
	switch raw {
	case "auto", "automatic":
		return ModeAutomatic, nil
	case "manual":
		return ModeManual, nil
	}
	return "", fmt.Errorf("unknown mode %q", raw)
}
