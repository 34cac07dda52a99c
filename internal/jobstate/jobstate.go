// Package jobstate defines the job lifecycle: the legal transition graph
// and the monotone status ordering the runner uses to make re-entry safe.
package jobstate

import "fmt"

// Status is one of the 11 lifecycle states a job moves through.
type Status string

const (
	Received     Status = "RECEIVED"
	Preprocessed Status = "PREPROCESSED"
	Routed       Status = "ROUTED"
	Planned      Status = "PLANNED"
	Executing    Status = "EXECUTING"
	Verified     Status = "VERIFIED"
	Acted        Status = "ACTED"
	NeedsReview  Status = "NEEDS_REVIEW"
	Succeeded    Status = "SUCCEEDED"
	Failed       Status = "FAILED"
	Cancelled    Status = "CANCELLED"
)

// Terminal reports whether a status has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case Succeeded, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// InvalidTransition is returned when a transition is not present in the
// legal-transition graph.
type InvalidTransition struct {
	From Status
	To   Status
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

var allowed = map[Status]map[Status]bool{
	Received:     set(Preprocessed, Cancelled, Failed),
	Preprocessed: set(Routed, Cancelled, Failed),
	Routed:       set(Planned, Cancelled, Failed),
	Planned:      set(Executing, Cancelled, Failed),
	Executing:    set(Verified, Cancelled, Failed),
	Verified:     set(Acted, NeedsReview, Failed),
	Acted:        set(Succeeded, NeedsReview, Failed),
	NeedsReview:  set(Executing, Cancelled, Failed),
	Succeeded:    {},
	Failed:       {},
	Cancelled:    {},
}

func set(statuses ...Status) map[Status]bool {
	m := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		m[s] = true
	}
	return m
}

// EnsureTransitionAllowed returns nil if moving from -> to is legal, or an
// *InvalidTransition otherwise. It never mutates anything; callers own
// persisting the new status.
func EnsureTransitionAllowed(from, to Status) error {
	if allowed[from][to] {
		return nil
	}
	return &InvalidTransition{From: from, To: to}
}

// order ranks statuses for the monotone advance used by the runner: a job
// can only be driven forward, never regressed, by advance_status.
var order = map[Status]int{
	Received:     10,
	Preprocessed: 20,
	Routed:       30,
	Planned:      40,
	Executing:    50,
	Verified:     60,
	Acted:        70,
	Succeeded:    80,
	NeedsReview:  90,
	Failed:       100,
	Cancelled:    100,
}

// Order returns the monotone rank of a status, for idempotent re-entry.
// Unknown statuses rank above every known one.
func Order(s Status) int {
	if r, ok := order[s]; ok {
		return r
	}
	return 1 << 30
}
