package order

import "github.com/go-faster/errors"

// Errors returned when parsing or applying status transitions.
var (
	ErrInvalidStatus     = errors.New("unknown order status")
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// Status tracks an order through its lifecycle. The set is closed: the
// original system accepted arbitrary status strings from administrators, but
// nothing ever read values outside this set, so they are rejected here.
type Status string

const (
	// StatusPending is the initial state of every placed order.
	StatusPending Status = "Pending"
	// StatusCompleted is terminal; completed orders count toward revenue.
	StatusCompleted Status = "Completed"
	// StatusCancelled is terminal. Cancelling does not return stock.
	StatusCancelled Status = "Cancelled"
)

// transitions is the allowed-transition table. Terminal states have no
// outgoing edges.
var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusCancelled},
	StatusCompleted: nil,
	StatusCancelled: nil,
}

// ParseStatus validates a status string against the closed set.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", ErrInvalidStatus
	}
	return st, nil
}

// Terminal reports whether no further transitions are allowed from st.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
