// Package session owns one elevated-command attempt: the exemption
// decision, the pairing handshake and, once approved, the rendezvous
// channel that relays terminal output to the pair.
package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/sudopair/internal/audit"
	"github.com/ppiankov/sudopair/internal/config"
	"github.com/ppiankov/sudopair/internal/fault"
	"github.com/ppiankov/sudopair/internal/logging"
	"github.com/ppiankov/sudopair/internal/model"
	"github.com/ppiankov/sudopair/internal/pairing"
	"github.com/ppiankov/sudopair/internal/policy"
	"github.com/ppiankov/sudopair/internal/prompt"
	"github.com/ppiankov/sudopair/internal/rendezvous"
)

// Printer writes a message to the invoking user's terminal.
type Printer func(msg []byte) error

// Recorder receives one entry per session outcome.
type Recorder interface {
	Record(e audit.Entry) error
}

// Option configures a Session.
type Option func(*Session)

// WithRecorder sends outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithWindow replaces the cancellation window around blocking calls.
func WithWindow(w func(ctx context.Context, fn func(ctx context.Context) error) error) Option {
	return func(s *Session) { s.window = w }
}

// Session is the state of one invocation. Host callbacks are serial, so
// Session is not safe for concurrent use.
type Session struct {
	inv       *model.Invocation
	settings  *config.Settings
	exemption policy.Exemption
	print     Printer
	recorder  Recorder
	window    func(ctx context.Context, fn func(ctx context.Context) error) error
	log       *logrus.Entry

	// conn is nil until a pair connects and nil again after Close.
	conn  *rendezvous.Conn
	state pairing.State
}

// New creates a session and evaluates the exemption rules once.
func New(inv *model.Invocation, settings *config.Settings, print Printer, opts ...Option) *Session {
	s := &Session{
		inv:       inv,
		settings:  settings,
		exemption: policy.Evaluate(inv, settings),
		print:     print,
		log:       logging.NewLogger("session"),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.WithFields(logrus.Fields{"uid": inv.UID, "pid": inv.PID})
	return s
}

// Exempt reports whether pairing is bypassed for this invocation.
func (s *Session) Exempt() bool {
	return s.exemption.Exempt
}

// Exemption returns the full exemption decision.
func (s *Session) Exemption() policy.Exemption {
	return s.exemption
}

// State returns the handshake state reached so far.
func (s *Session) State() pairing.State {
	return s.state
}

// SocketPath is where this invocation's pair must connect.
func (s *Session) SocketPath() string {
	return rendezvous.SocketPath(s.settings.SocketDir, s.inv.EUID, s.inv.PID)
}

// Paired reports whether an approved channel is open.
func (s *Session) Paired() bool {
	return s.conn != nil && s.state == pairing.Approved
}

// Pair runs the handshake unless the invocation is exempt. A nil return
// means the command may run.
func (s *Session) Pair(ctx context.Context) error {
	if s.Exempt() {
		s.log.WithField("reason", s.exemption.Reason).Debug("pairing exempt")
		s.record(audit.OutcomeExempt, string(s.exemption.Reason))
		return nil
	}

	owner, err := rendezvous.DeriveOwner(s.inv, s.settings)
	if err != nil {
		return s.finish(fault.Config("socket owner", err))
	}
	if err := rendezvous.CheckDir(s.settings.SocketDir); err != nil {
		return s.finish(fault.Config("socket dir", err))
	}

	subs := prompt.Substitutions(s.inv, s.settings.BinaryPath)
	userTmpl, err := prompt.Load(s.settings.UserPromptPath, prompt.DefaultUserTemplate)
	if err != nil {
		s.log.WithError(err).Debug("using built-in user prompt")
	}
	pairTmpl, err := prompt.Load(s.settings.PairPromptPath, prompt.DefaultPairTemplate)
	if err != nil {
		s.log.WithError(err).Debug("using built-in pair prompt")
	}

	path := s.SocketPath()
	h := &pairing.Handshake{
		UserPrompt: userTmpl.Expand(subs),
		PairPrompt: pairTmpl.Expand(subs),
		ShowLocal:  s.print,
		Window:     s.window,
		Connect: func(ctx context.Context) (pairing.Channel, error) {
			l, err := rendezvous.Listen(path, owner)
			if err != nil {
				return nil, err
			}
			s.log.WithFields(logrus.Fields{"socket": path, "owner": owner.String()}).Info("waiting for pair")
			conn, err := l.Accept(ctx)
			if err != nil {
				return nil, err
			}
			s.conn = conn
			return conn, nil
		},
		OnTransition: func(from, to pairing.State) {
			s.state = to
			s.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("pairing transition")
		},
	}

	state, err := h.Run(ctx)
	s.state = state
	if err != nil {
		return s.finish(err)
	}
	s.record(audit.OutcomeApproved, "pair approved")
	return nil
}

// finish releases the channel after a failed handshake and records why.
func (s *Session) finish(err error) error {
	s.closeConn()
	s.record(outcomeFor(err), err.Error())
	s.log.WithError(err).Warn("pairing failed")
	return err
}

// WriteOutput relays terminal output to the pair. Exempt sessions relay
// nothing. A failed write means the pair left; the channel is closed and
// a terminated fault is returned so the command is stopped.
func (s *Session) WriteOutput(p []byte) error {
	if s.Exempt() {
		return nil
	}
	if s.conn == nil {
		return fault.New(fault.KindTerminated, "relay output: no pair connected")
	}
	if _, err := s.conn.Write(p); err != nil {
		s.closeConn()
		s.record(audit.OutcomeEnded, "pair disconnected")
		s.log.WithError(err).Warn("pair ended the session")
		return fault.Wrap(err, fault.KindTerminated, "relay output")
	}
	return nil
}

// Stream names a standard stream of the elevated command.
type Stream string

const (
	Stdin  Stream = "stdin"
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// CheckRedirect decides whether the command may have its standard
// stream redirected. Only exempt sessions may.
func (s *Session) CheckRedirect(stream Stream) error {
	if s.Exempt() {
		return nil
	}
	s.record(audit.OutcomeProhibited, string(stream)+" redirection")
	return fault.New(fault.KindProhibited, fmt.Sprintf("%s redirection", stream))
}

// Close shuts down the channel. Safe to call more than once.
func (s *Session) Close() error {
	return s.closeConn()
}

func (s *Session) closeConn() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Session) record(outcome audit.Outcome, reason string) {
	if s.recorder == nil {
		return
	}
	e := audit.Entry{
		Socket:   s.SocketPath(),
		User:     s.inv.User,
		UID:      s.inv.UID,
		Host:     s.inv.Hostname,
		Command:  s.inv.CommandLine(),
		RunasUID: s.inv.RunasEUID,
		Outcome:  outcome,
		Reason:   reason,
	}
	if err := s.recorder.Record(e); err != nil {
		s.log.WithError(err).Error("audit record failed")
	}
}

func outcomeFor(err error) audit.Outcome {
	switch fault.KindOf(err) {
	case fault.KindDenied:
		return audit.OutcomeDenied
	case fault.KindTerminated:
		return audit.OutcomeTerminated
	case fault.KindProhibited:
		return audit.OutcomeProhibited
	case fault.KindCommunication:
		return audit.OutcomeDenied
	default:
		return audit.OutcomeError
	}
}
