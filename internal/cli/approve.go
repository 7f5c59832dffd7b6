package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/ppiankov/sudopair/internal/history"
	"github.com/ppiankov/sudopair/internal/logging"
	"github.com/ppiankov/sudopair/internal/pairing"
	"github.com/ppiankov/sudopair/internal/rendezvous"
)

// maxPromptCapture bounds the prompt text kept in history.
const maxPromptCapture = 4096

var approveNoHistory bool

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().BoolVar(&approveNoHistory, "no-history", false, "Do not record this session in the local history")
}

var approveCmd = &cobra.Command{
	Use:   "approve <uid> <pid>",
	Short: "Answer a pending pairing request",
	Long: "Connects to the session waiting at {socket_dir}/{uid}.{pid}.sock, shows\n" +
		"the command and reads a single key: y approves, anything else denies.\n" +
		"Approved sessions are mirrored here until the command exits.",
	Args: cobra.ExactArgs(2),
	RunE: runApprove,
}

// ErrSelfApproval is returned when a user tries to pair with themselves.
var ErrSelfApproval = errors.New("refusing to approve your own session")

// errEndedEarly means the session went away before a reply was sent.
var errEndedEarly = errors.New("session ended before a reply was sent")

func runApprove(cmd *cobra.Command, args []string) error {
	uid, pid, err := parseTarget(args[0], args[1])
	if err != nil {
		return err
	}
	if self := uint32(unix.Getuid()); self == uid && self != 0 {
		return ErrSelfApproval
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	path := rendezvous.SocketPath(settings.SocketDir, uid, pid)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := rendezvous.Dial(ctx, path)
	if err != nil {
		return fmt.Errorf("no pending session for uid %d pid %d: %w", uid, pid, err)
	}
	defer conn.Close()

	// Raw mode lets a single keypress answer without Enter.
	restore := func() {}
	if fd := os.Stdin.Fd(); isatty.IsTerminal(fd) {
		old, err := term.MakeRaw(int(fd))
		if err != nil {
			return fmt.Errorf("set terminal raw mode: %w", err)
		}
		var once sync.Once
		restore = func() { once.Do(func() { _ = term.Restore(int(fd), old) }) }
		defer restore()
	}

	res, err := pairWith(ctx, conn, os.Stdin, cmd.OutOrStdout(), restore)
	recordHistory(cmd.Context(), path, uid, pid, res)

	switch {
	case err != nil:
		return err
	case res.Decision == history.DecisionDenied:
		fmt.Fprintln(cmd.ErrOrStderr(), "denied")
	case ctx.Err() != nil:
		fmt.Fprintln(cmd.ErrOrStderr(), "detached from session")
	}
	return nil
}

func parseTarget(uidArg, pidArg string) (uint32, int, error) {
	uid, err := strconv.ParseUint(uidArg, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid uid %q", uidArg)
	}
	pid, err := strconv.Atoi(pidArg)
	if err != nil || pid <= 0 {
		return 0, 0, fmt.Errorf("invalid pid %q", pidArg)
	}
	return uint32(uid), pid, nil
}

type approvalResult struct {
	Decision history.Decision
	Prompt   string
	// Bytes counts session output mirrored after the reply.
	Bytes    int64
}

// pairWith shows the prompt arriving on conn, sends the first byte read
// from in as the reply and mirrors the session to out until it closes
// or ctx is cancelled. onReply runs once the reply byte has been read.
func pairWith(ctx context.Context, conn io.ReadWriteCloser, in io.Reader, out io.Writer, onReply func()) (approvalResult, error) {
	log := logging.NewLogger("approve")
	m := &mirror{out: out, capturing: true, first: make(chan struct{})}
	res := approvalResult{Decision: history.DecisionAborted}

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(m, conn)
		done <- err
	}()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	abort := func(err error) (approvalResult, error) {
		conn.Close()
		<-done
		res.Prompt = m.stopCapture()
		return res, err
	}

	ended := func() (approvalResult, error) {
		res.Prompt = m.stopCapture()
		if err := ctx.Err(); err != nil {
			return res, err
		}
		return res, errEndedEarly
	}

	select {
	case <-m.first:
	case <-done:
		return ended()
	case <-ctx.Done():
		return abort(ctx.Err())
	}

	type keypress struct {
		b   byte
		err error
	}
	keys := make(chan keypress, 1)
	go func() {
		var b [1]byte
		_, err := io.ReadFull(in, b[:])
		keys <- keypress{b[0], err}
	}()

	var key keypress
	select {
	case key = <-keys:
	case <-done:
		return ended()
	case <-ctx.Done():
		return abort(ctx.Err())
	}
	if onReply != nil {
		onReply()
	}
	res.Prompt = m.stopCapture()
	if key.err != nil {
		return abort(fmt.Errorf("read reply: %w", key.err))
	}
	if _, err := conn.Write([]byte{key.b}); err != nil {
		return abort(fmt.Errorf("send reply: %w", err))
	}

	res.Decision = history.DecisionDenied
	if pairing.IsApproval(key.b) {
		res.Decision = history.DecisionApproved
	}
	log.WithField("decision", res.Decision).Debug("reply sent")

	err := <-done
	res.Bytes = m.count()
	if err != nil && ctx.Err() == nil && !errors.Is(err, unix.ECONNRESET) {
		return res, fmt.Errorf("mirror session: %w", err)
	}
	return res, nil
}

// mirror copies session output to the terminal, keeping the prompt text
// until the reply is sent.
type mirror struct {
	mu        sync.Mutex
	out       io.Writer
	capturing bool
	prompt    bytes.Buffer
	n         int64
	first     chan struct{}
	seen      bool
}

func (m *mirror) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capturing {
		if room := maxPromptCapture - m.prompt.Len(); room > 0 {
			m.prompt.Write(p[:min(len(p), room)])
		}
	} else {
		m.n += int64(len(p))
	}
	if !m.seen {
		m.seen = true
		close(m.first)
	}
	return m.out.Write(p)
}

func (m *mirror) stopCapture() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capturing = false
	return m.prompt.String()
}

func (m *mirror) count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

func recordHistory(ctx context.Context, socket string, uid uint32, pid int, res approvalResult) {
	if approveNoHistory {
		return
	}
	log := logging.NewLogger("approve")
	store, err := history.Open(historyPath)
	if err != nil {
		log.WithError(err).Warn("history unavailable")
		return
	}
	defer store.Close()

	id, err := store.Start(ctx, history.Session{
		Socket:   socket,
		UID:      uid,
		PID:      pid,
		Pair:     currentUser(),
		Prompt:   res.Prompt,
		Decision: res.Decision,
	})
	if err != nil {
		log.WithError(err).Warn("history record failed")
		return
	}
	if err := store.Finish(ctx, id, res.Bytes); err != nil {
		log.WithError(err).Warn("history record failed")
	}
}
