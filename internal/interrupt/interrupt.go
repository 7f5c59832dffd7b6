// Package interrupt arms SIGINT around the blocking steps of pairing.
//
// Outside a Window the process keeps its default SIGINT disposition, so
// the elevated command sees the same signal behavior it would without the
// plugin.
package interrupt

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/ppiankov/sudopair/internal/fault"
)

// ExitCancelled is the exit status used when the operator aborts a
// pending pairing, matching a cancelled authentication.
const ExitCancelled = 1

// ErrInterrupted is returned by Window when SIGINT arrived while fn ran.
var ErrInterrupted = errors.New("interrupted by operator")

// Exit terminates the process without unwinding. Tests replace it.
var Exit = os.Exit

// Window runs fn with a context that is cancelled on SIGINT. If the
// signal arrived, the result is a terminated fault wrapping
// ErrInterrupted no matter what fn returned.
func Window(parent context.Context, fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	err := fn(ctx)
	if ctx.Err() != nil && parent.Err() == nil {
		return fault.Wrap(ErrInterrupted, fault.KindTerminated, "pairing")
	}
	return err
}

// Interrupted reports whether err came from an interrupted Window.
func Interrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
