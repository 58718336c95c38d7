// Package lifecycle holds the trip status vocabulary and the legal
// transitions between statuses.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/example/dispatch-engine/internal/models"
)

var synonyms = map[string]models.Status{
	"new":       models.StatusPending,
	"requested": models.StatusPending,
	"enroute":   models.StatusOnTheWay,
	"ongoing":   models.StatusOnTrip,
	"canceled":  models.StatusCancelled,
}

var canonical = map[models.Status]bool{
	models.StatusPending:   true,
	models.StatusAssigned:  true,
	models.StatusOnTheWay:  true,
	models.StatusArrived:   true,
	models.StatusOnTrip:    true,
	models.StatusCompleted: true,
	models.StatusCancelled: true,
}

// Normalize folds a raw status string into the canonical vocabulary.
// Anything unrecognized becomes StatusUnknown.
func Normalize(raw string) models.Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if v, ok := synonyms[s]; ok {
		return v
	}
	if canonical[models.Status(s)] {
		return models.Status(s)
	}
	return models.StatusUnknown
}

// IsCanonical reports whether s is one of the seven canonical statuses.
func IsCanonical(s models.Status) bool { return canonical[s] }

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s models.Status) bool {
	return s == models.StatusCompleted || s == models.StatusCancelled
}

// Flow selects the variant of the lifecycle being driven.
type Flow int

const (
	// FlowDispatch is the operator lifecycle.
	FlowDispatch Flow = iota
	// FlowPassenger additionally passes through arrived after on_the_way.
	FlowPassenger
)

// ParseFlow maps "passenger" to FlowPassenger; anything else is FlowDispatch.
func ParseFlow(s string) Flow {
	if strings.EqualFold(strings.TrimSpace(s), "passenger") {
		return FlowPassenger
	}
	return FlowDispatch
}

func (f Flow) String() string {
	if f == FlowPassenger {
		return "passenger"
	}
	return "dispatch"
}

// transitions is the state diagram as code.
var transitions = map[models.Status][]models.Status{
	models.StatusPending:   {models.StatusAssigned, models.StatusCancelled},
	models.StatusAssigned:  {models.StatusOnTheWay, models.StatusCancelled},
	models.StatusOnTheWay:  {models.StatusOnTrip, models.StatusCancelled},
	models.StatusArrived:   {models.StatusCompleted, models.StatusCancelled},
	models.StatusOnTrip:    {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted: {},
	models.StatusCancelled: {},
}

// Allowed returns the statuses reachable from the normalized form of from.
// Unknown statuses may only be cancelled.
func Allowed(from models.Status, flow Flow) []models.Status {
	from = Normalize(string(from))
	next, ok := transitions[from]
	if !ok {
		return []models.Status{models.StatusCancelled}
	}
	out := make([]models.Status, len(next), len(next)+1)
	copy(out, next)
	if flow == FlowPassenger && from == models.StatusOnTheWay {
		out = append(out, models.StatusArrived)
	}
	return out
}

// CanTransition reports whether to is in Allowed(from, flow).
func CanTransition(from, to models.Status, flow Flow) bool {
	for _, s := range Allowed(from, flow) {
		if s == to {
			return true
		}
	}
	return false
}

// Options tune RequestTransition.
type Options struct {
	// Force skips the transition table entirely, terminal statuses included.
	Force bool
	Flow  Flow
}

// TransitionError is a local validation rejection. It is never sent to the store.
type TransitionError struct {
	From   models.Status
	To     string
	Code   string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	if e.Code == models.CodeInvalidStatus {
		return models.ErrInvalidStatus
	}
	return models.ErrInvalidTransition
}

// RequestTransition validates moving trip to target and returns the canonical
// next status. It performs no I/O; the caller persists the result and must
// wait for the store to confirm it.
func RequestTransition(trip models.Trip, target string, opts Options) (models.Status, error) {
	from := Normalize(string(trip.Status))
	to := Normalize(target)
	if !IsCanonical(to) {
		return models.StatusUnknown, &TransitionError{
			From:   from,
			To:     target,
			Code:   models.CodeInvalidStatus,
			Reason: fmt.Sprintf("%q is not a known status", target),
		}
	}
	if opts.Force {
		return to, nil
	}
	if !CanTransition(from, to, opts.Flow) {
		label := string(from)
		if label == "" {
			label = "unknown"
		}
		return models.StatusUnknown, &TransitionError{
			From:   from,
			To:     string(to),
			Code:   models.CodeInvalidTransition,
			Reason: fmt.Sprintf("cannot move trip %s from %s to %s", trip.ID, label, to),
		}
	}
	return to, nil
}
