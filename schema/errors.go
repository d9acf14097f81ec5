package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransport indicates a network, socket or server failure.
	ErrTransport = errors.New("transport failure")
	// ErrProtocolViolation indicates an undecodable or out-of-order frame.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrRejected indicates a command was refused because the session is not connected.
	ErrRejected = errors.New("command rejected")
	// ErrSessionClosed indicates the session has been shut down.
	ErrSessionClosed = errors.New("session closed")
)

// RejectedError reports a command refused in the given state.
type RejectedError struct {
	State SessionState
}

func (e *RejectedError) Error() string {
	if e == nil {
		return ErrRejected.Error()
	}
	return fmt.Sprintf("%s: session is %s", ErrRejected, e.State)
}

// Is matches ErrRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// DecodeError reports an inbound payload that could not be decoded.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	if e == nil || e.Err == nil {
		return ErrProtocolViolation.Error()
	}
	return fmt.Sprintf("%s: %v", ErrProtocolViolation, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches ErrProtocolViolation.
func (e *DecodeError) Is(target error) bool {
	return target == ErrProtocolViolation
}
