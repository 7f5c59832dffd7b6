// Package plugin exposes the I/O plugin entry points the host broker
// calls for one elevated command: Open before the command runs, the log
// callbacks while it runs, and Close when it exits.
//
// The host loads one plugin instance per process and calls it serially.
// Default is that instance.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/sudopair/internal/audit"
	"github.com/ppiankov/sudopair/internal/config"
	"github.com/ppiankov/sudopair/internal/fault"
	"github.com/ppiankov/sudopair/internal/hostenv"
	"github.com/ppiankov/sudopair/internal/interrupt"
	"github.com/ppiankov/sudopair/internal/logging"
	"github.com/ppiankov/sudopair/internal/model"
	"github.com/ppiankov/sudopair/internal/session"
)

const (
	Name    = "sudo_pair"
	Version = "1.0.0"
)

// Status is the value returned to the host.
type Status int

const (
	StatusAccept Status = 1
	StatusReject Status = 0
	StatusError  Status = -1
	StatusUsage  Status = -2
)

func (s Status) String() string {
	switch s {
	case StatusAccept:
		return "accept"
	case StatusReject:
		return "reject"
	case StatusError:
		return "error"
	case StatusUsage:
		return "usage"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Params are the key=value groups and argument vector the host passes
// at open time.
type Params struct {
	Settings      []string
	UserInfo      []string
	CommandInfo   []string
	Argv          []string
	UserEnv       []string
	PluginOptions []string
}

// Plugin holds the state of the single open session.
type Plugin struct {
	mu      sync.Mutex
	print   session.Printer
	session *session.Session
	audit   *audit.Log
	env     *hostenv.Options

	// window overrides the SIGINT window; nil means interrupt.Window.
	window func(ctx context.Context, fn func(ctx context.Context) error) error
}

// Default is the process-wide plugin instance.
var Default = &Plugin{}

func (p *Plugin) logger() *logrus.Entry {
	return logging.NewLogger("plugin")
}

// Open evaluates the invocation and, unless exempt, blocks until a pair
// approves or refuses it. StatusAccept lets the command run.
func (p *Plugin) Open(ctx context.Context, print session.Printer, params Params) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if print == nil {
		return StatusError
	}
	if p.session != nil {
		p.logger().Error("open called while a session is active")
		return StatusError
	}
	p.print = print

	settings, err := config.Resolve(hostenv.ParseStrings(params.PluginOptions))
	if err != nil {
		return p.reject(err)
	}
	if err := logging.Configure(logging.Config{Level: settings.LogLevel, File: settings.LogFile}); err != nil {
		p.logger().WithError(err).Warn("logging not configured")
	}
	log := p.logger()

	inv, err := model.NewInvocation(
		hostenv.ParseStrings(params.UserInfo),
		hostenv.ParseStrings(params.CommandInfo),
		params.Argv,
	)
	if err != nil {
		return p.reject(fault.Config("read invocation", err))
	}

	opts := []session.Option{}
	if settings.AuditLog != "" {
		l, err := audit.Open(settings.AuditLog)
		if err != nil {
			log.WithError(err).Error("audit log unavailable")
		} else {
			p.audit = l
			opts = append(opts, session.WithRecorder(l))
		}
	}
	if p.window != nil {
		opts = append(opts, session.WithWindow(p.window))
	}

	sess := session.New(inv, settings, print, opts...)
	if err := sess.Pair(ctx); err != nil {
		sess.Close()
		status := p.reject(err)
		if interrupt.Interrupted(err) {
			interrupt.Exit(interrupt.ExitCancelled)
		}
		return status
	}

	p.session = sess
	p.env = hostenv.ParseStrings(params.UserEnv)
	log.WithFields(logrus.Fields{
		"user":    inv.User,
		"command": inv.CommandLine(),
		"exempt":  sess.Exempt(),
	}).Info("session opened")
	return StatusAccept
}

// reject tells the user why and releases everything Open acquired.
func (p *Plugin) reject(err error) Status {
	p.say(fault.UserMessage(err))
	p.logger().WithError(err).Warn("session rejected")
	p.release()
	return StatusReject
}

func (p *Plugin) say(msg string) {
	if p.print == nil {
		return
	}
	if err := p.print([]byte(msg + "\n")); err != nil {
		p.logger().WithError(err).Debug("printer failed")
	}
}

// Close ends the session. The channel is shut down and the session
// discarded before the saved environment is released.
func (p *Plugin) Close(exitStatus, errCode int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		if err := p.session.Close(); err != nil {
			p.logger().WithError(err).Debug("closing pair channel")
		}
		p.session = nil
	}
	p.logger().WithFields(logrus.Fields{"exit_status": exitStatus, "error": errCode}).Debug("session closed")
	p.release()
}

func (p *Plugin) release() {
	if p.audit != nil {
		p.audit.Close()
		p.audit = nil
	}
	p.env = nil
	p.print = nil
}

// LogTTYIn accepts keyboard input. It is never forwarded to the pair.
func (p *Plugin) LogTTYIn(buf []byte) Status {
	return StatusAccept
}

// LogTTYOut forwards terminal output to the pair. If the pair is gone
// the command is stopped.
func (p *Plugin) LogTTYOut(buf []byte) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return StatusError
	}
	if err := p.session.WriteOutput(buf); err != nil {
		p.say(fault.UserMessage(err))
		return StatusReject
	}
	return StatusAccept
}

// LogStdin is called when the command's stdin is not a terminal.
func (p *Plugin) LogStdin(buf []byte) Status {
	return p.redirect(session.Stdin)
}

// LogStdout is called when the command's stdout is not a terminal.
func (p *Plugin) LogStdout(buf []byte) Status {
	return p.redirect(session.Stdout)
}

// LogStderr is called when the command's stderr is not a terminal.
func (p *Plugin) LogStderr(buf []byte) Status {
	return p.redirect(session.Stderr)
}

func (p *Plugin) redirect(stream session.Stream) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return StatusError
	}
	if err := p.session.CheckRedirect(stream); err != nil {
		p.say(fault.UserMessage(err))
		return StatusReject
	}
	return StatusAccept
}

// ShowVersion prints the plugin banner through the host printer.
func (p *Plugin) ShowVersion(verbose bool) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.print == nil {
		return StatusError
	}
	p.say(fmt.Sprintf("%s plugin version %s", Name, Version))
	if verbose {
		p.say(fmt.Sprintf("%s default approval binary: %s", Name, config.DefaultBinaryPath))
		p.say(fmt.Sprintf("%s default socket directory: %s", Name, config.DefaultSocketDir))
	}
	return StatusAccept
}

// Env returns the user environment saved at open, or nil after Close.
func (p *Plugin) Env() *hostenv.Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.env
}
