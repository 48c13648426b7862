package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// TransientFetchError is a network or timeout failure on a history or balance fetch.
// It is never retried inline; the next scheduled refresh picks it up.
type TransientFetchError struct {
	Op  string // "fetch_history", "fetch_balance", ...
	Key string // subject key or account address
	Err error
}

func (e *TransientFetchError) Error() string {
	if e.Key == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " [" + e.Key + "]: " + e.Err.Error()
}

func (e *TransientFetchError) IsRetriable() bool {
	return true
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// NewTransientFetchError wraps err unless it already carries a TransientFetchError.
func NewTransientFetchError(op, key string, err error) error {
	var tfe *TransientFetchError
	if errors.As(err, &tfe) {
		return err
	}
	return &TransientFetchError{Op: op, Key: key, Err: err}
}

// InvalidTransitionError is returned when a lifecycle transition is attempted
// from a state that is not a valid source for it. No remote call is made.
type InvalidTransitionError struct {
	Transition string
	From       ConnectionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q from %s", e.Transition, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// RemoteRejectionError means the remote side was reached but refused the request.
// Local state is left unchanged.
type RemoteRejectionError struct {
	Op     string
	Key    string
	Reason string
	Err    error
}

func (e *RemoteRejectionError) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg += " [" + e.Key + "]"
	}
	msg += ": rejected"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteRejectionError) Is(target error) bool {
	return target == ErrRemoteRejection
}

func (e *RemoteRejectionError) Unwrap() error {
	return e.Err
}

func (e *RemoteRejectionError) IsRetriable() bool {
	return false
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidTransition matches any *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrRemoteRejection matches any *RemoteRejectionError.
	ErrRemoteRejection = errors.New("remote rejection")

	// ErrTransitionInProgress is returned when a second transition for the same
	// member is requested while the first is still awaiting the remote call.
	ErrTransitionInProgress = errors.New("transition in progress")

	// ErrStaleSubject marks a fetch result whose subject key is no longer current.
	// It is discarded silently and never surfaced to callers.
	ErrStaleSubject = errors.New("stale subject")

	// ErrUnknownMember is returned when a member id is not in the mirrored connection list.
	ErrUnknownMember = errors.New("unknown member")

	// ErrMemberNotConnected is returned when selecting a member whose status is not Connected.
	ErrMemberNotConnected = errors.New("member not connected")

	// ErrMalformedRecord is returned when an inbound record is missing required fields.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrNoTargets is returned when a trade is submitted with an empty selection.
	ErrNoTargets = errors.New("no target connections selected")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// malformed builds an ErrMalformedRecord naming the missing field.
func malformed(record, field string) error {
	return fmt.Errorf("%w: %s missing %s", ErrMalformedRecord, record, field)
}
