// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bserr implements the session error taxonomy shared by every core
// component. Every session-fatal error is classified into one Kind so the
// session driver can pick the right terminal state without inspecting
// individual sentinel errors from each package.
package bserr

import (
	"errors"
	"fmt"
)

// Kind classifies why a session died.
type Kind int

const (
	// Unknown is the zero value; KindOf returns it for a nil error and
	// for any error that was not classified with New.
	Unknown Kind = iota
	ProtocolViolation
	CryptoFailure
	TransportFailure
	IoFailure
	UserRejection
	Cancellation
	ConfigurationFailure
)

func (k Kind) String() string {
	switch k {
	case ProtocolViolation:
		return "protocol violation"
	case CryptoFailure:
		return "crypto failure"
	case TransportFailure:
		return "transport failure"
	case IoFailure:
		return "io failure"
	case UserRejection:
		return "user rejection"
	case Cancellation:
		return "cancellation"
	case ConfigurationFailure:
		return "configuration failure"
	default:
		return "unknown"
	}
}

// Error is a classified, wrapped error.
type Error struct {
	Kind Kind
	Op   string // component/operation that raised it, e.g. "record.Unwrap"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New classifies err under op/kind. A nil err returns nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err, or Unknown if err was not raised by this
// package (callers should treat Unknown as TransportFailure/Disconnected).
func KindOf(err error) Kind {
	var e *Error
	if err == nil {
		return Unknown
	}
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err was classified under kind, e.g.
// bserr.Is(err, bserr.CryptoFailure).
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
