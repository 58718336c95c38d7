package models

import "errors"

// Wire codes carried in {ok:false, code, message} responses.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeNotFound          = "NOT_FOUND"
	CodeBadRequest        = "BAD_REQUEST"
	CodeRequestFailed     = "REQUEST_FAILED"
)

var (
	// ErrNotFound is returned when a trip, driver or zone does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidTransition is returned when the target is not reachable from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidStatus is returned when a target status does not normalize to a canonical value.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrBadRequest covers malformed input such as non-finite coordinates.
	ErrBadRequest = errors.New("bad request")

	// ErrRequestFailed is returned when the remote store rejects or fails an action.
	ErrRequestFailed = errors.New("request failed")
)

// Code maps an error to its wire code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrInvalidStatus):
		return CodeInvalidStatus
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	default:
		return CodeRequestFailed
	}
}
