// Package pairing runs the approval handshake with a pair.
//
//	Init → LocalPromptShown → RemoteConnecting → RemotePromptSent
//	     → AwaitingReply → Approved | Denied | Terminated
//
// Only Approved lets the elevated command run.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ppiankov/sudopair/internal/fault"
	"github.com/ppiankov/sudopair/internal/interrupt"
)

// State is a step of the handshake.
type State int

const (
	Init State = iota
	LocalPromptShown
	RemoteConnecting
	RemotePromptSent
	AwaitingReply
	Approved
	Denied
	Terminated
)

var stateNames = map[State]string{
	Init:             "init",
	LocalPromptShown: "local_prompt_shown",
	RemoteConnecting: "remote_connecting",
	RemotePromptSent: "remote_prompt_sent",
	AwaitingReply:    "awaiting_reply",
	Approved:         "approved",
	Denied:           "denied",
	Terminated:       "terminated",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Final reports whether s ends the handshake.
func (s State) Final() bool {
	return s == Approved || s == Denied || s == Terminated
}

// Channel is the connected rendezvous channel as seen by the handshake.
type Channel interface {
	io.Writer
	ReadByteContext(ctx context.Context) (byte, error)
}

// Handshake holds the collaborators for one negotiation.
type Handshake struct {
	// UserPrompt is shown locally before connecting.
	UserPrompt []byte
	// PairPrompt is written to the pair once connected.
	PairPrompt []byte
	// ShowLocal displays text on the invoking user's terminal.
	ShowLocal func(msg []byte) error
	// Connect blocks until a pair connects.
	Connect func(ctx context.Context) (Channel, error)
	// Window wraps each blocking call. Defaults to interrupt.Window.
	Window func(ctx context.Context, fn func(ctx context.Context) error) error
	// OnTransition observes state changes. Optional.
	OnTransition func(from, to State)

	state State
}

// IsApproval reports whether a reply byte approves the session.
func IsApproval(b byte) bool {
	return b == 'y' || b == 'Y'
}

// State returns the current state.
func (h *Handshake) State() State {
	return h.state
}

func (h *Handshake) to(next State) {
	if h.OnTransition != nil {
		h.OnTransition(h.state, next)
	}
	h.state = next
}

// Run negotiates with the pair. The returned error is nil exactly when
// the final state is Approved; otherwise it is a fault explaining why.
func (h *Handshake) Run(ctx context.Context) (State, error) {
	window := h.Window
	if window == nil {
		window = interrupt.Window
	}

	if h.ShowLocal != nil {
		// The pair can still be reached if the local prompt cannot be shown.
		_ = h.ShowLocal(h.UserPrompt)
	}
	h.to(LocalPromptShown)

	h.to(RemoteConnecting)
	var ch Channel
	err := window(ctx, func(ctx context.Context) error {
		var err error
		ch, err = h.Connect(ctx)
		return err
	})
	if err != nil {
		return h.fail("connect to pair", err)
	}

	if _, err := ch.Write(h.PairPrompt); err != nil {
		return h.fail("send prompt", err)
	}
	h.to(RemotePromptSent)

	h.to(AwaitingReply)
	var reply byte
	err = window(ctx, func(ctx context.Context) error {
		var err error
		reply, err = ch.ReadByteContext(ctx)
		return err
	})
	if err != nil {
		return h.fail("read reply", err)
	}

	// The pair's terminal is in raw mode, so every reply is echoed back.
	_, echoErr := ch.Write([]byte{reply, '\n'})
	if !IsApproval(reply) {
		h.to(Denied)
		return Denied, fault.New(fault.KindDenied, fmt.Sprintf("pair replied %q", reply))
	}
	if echoErr != nil {
		return h.fail("echo reply", echoErr)
	}
	h.to(Approved)
	return Approved, nil
}

// fail maps an error to Terminated when the operator interrupted and to
// a Denied communication fault otherwise.
func (h *Handshake) fail(op string, err error) (State, error) {
	if errors.Is(err, interrupt.ErrInterrupted) {
		h.to(Terminated)
		return Terminated, err
	}
	h.to(Denied)
	return Denied, fault.Communication(op, err)
}
