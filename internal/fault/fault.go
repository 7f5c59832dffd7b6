// Package fault classifies errors raised while negotiating a pairing
// session. Every kind collapses to accept/reject at the plugin boundary;
// the kind decides which message the invoking user sees.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	// KindConfig covers missing or malformed settings. Always fatal.
	KindConfig Kind = "config"
	// KindCommunication covers socket bind/accept/read/write failures.
	KindCommunication Kind = "communication"
	// KindDenied means the pair answered anything other than yes.
	KindDenied Kind = "denied"
	// KindTerminated means the pair disconnected or the operator cancelled.
	KindTerminated Kind = "terminated"
	// KindProhibited means stdin/stdout/stderr redirection was attempted.
	KindProhibited Kind = "prohibited"
	// KindInternal is reserved for plugin malfunction.
	KindInternal Kind = "internal"
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error without a cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config wraps err as a configuration failure.
func Config(op string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// Communication wraps err as a rendezvous channel failure.
func Communication(op string, err error) error {
	return &Error{Kind: KindCommunication, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's
// chain, or KindInternal if none is classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}

// UserMessage is the explanation shown to the invoking user when a
// session fails with err.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindConfig:
		return "sudo_pair: configuration error: " + err.Error()
	case KindCommunication:
		return "sudo_pair: unable to reach a pair: " + err.Error()
	case KindDenied:
		return "sudo_pair: denied by pair"
	case KindTerminated:
		return "sudo_pair: pair session terminated"
	case KindProhibited:
		return "sudo_pair: redirection of stdin, stdout, and stderr prohibited"
	default:
		return "sudo_pair: internal error: " + err.Error()
	}
}
