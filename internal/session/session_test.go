package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/sudopair/internal/audit"
	"github.com/ppiankov/sudopair/internal/config"
	"github.com/ppiankov/sudopair/internal/fault"
	"github.com/ppiankov/sudopair/internal/interrupt"
	"github.com/ppiankov/sudopair/internal/model"
	"github.com/ppiankov/sudopair/internal/pairing"
	"github.com/ppiankov/sudopair/internal/rendezvous"
)

const enforcedGID = 4242

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memRecorder) Record(e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRecorder) outcomes() []audit.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Outcome
	for _, e := range m.entries {
		out = append(out, e.Outcome)
	}
	return out
}

func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sps")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	require.NoError(t, os.Chmod(dir, 0o700))
	return dir
}

func testSettings(t *testing.T) *config.Settings {
	s := config.Default()
	s.SocketDir = socketDir(t)
	s.GidsEnforced = []uint32{enforcedGID}
	uid, gid, mode := uint32(os.Geteuid()), uint32(os.Getegid()), uint32(0o600)
	s.SocketUID, s.SocketGID, s.SocketMode = &uid, &gid, &mode
	s.UserPromptPath = "/nonexistent/user.prompt"
	s.PairPromptPath = "/nonexistent/pair.prompt"
	return s
}

func testInvocation() *model.Invocation {
	return &model.Invocation{
		UID: 1000, EUID: 1000, GID: 1000, EGID: 1000,
		Groups: []uint32{1000, enforcedGID}, PID: 31337,
		User: "alice", Hostname: "build01", Cwd: "/home/alice",
		Lines: 24, Cols: 80,
		Command: "/usr/bin/id", Argv: []string{"id"},
		RunasUID: 0, RunasEUID: 0, RunasGID: 0, RunasEGID: 0,
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Lstat(path)
		return err == nil
	}, 5*time.Second, 5*time.Millisecond, "socket %s never appeared", path)
}

// pairClient connects as the pair, reads the prompt and answers reply.
func pairClient(t *testing.T, path string, reply byte) (*rendezvous.Conn, *bufio.Reader, string) {
	t.Helper()
	waitForSocket(t, path)
	conn, err := rendezvous.Dial(context.Background(), path)
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	var prompt bytes.Buffer
	for !strings.HasSuffix(prompt.String(), "y/n? [n]: ") {
		b, err := r.ReadByte()
		require.NoError(t, err)
		prompt.WriteByte(b)
	}
	_, err = conn.Write([]byte{reply})
	require.NoError(t, err)
	return conn, r, prompt.String()
}

type printed struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (p *printed) print(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Write(msg)
	return nil
}

func (p *printed) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

func TestExemptSessionSkipsPairing(t *testing.T) {
	s := testSettings(t)
	inv := testInvocation()
	inv.UID = 0
	rec := &memRecorder{}

	sess := New(inv, s, (&printed{}).print, WithRecorder(rec))
	require.True(t, sess.Exempt())
	require.NoError(t, sess.Pair(context.Background()))

	assert.NoError(t, sess.WriteOutput([]byte("anything")))
	assert.NoError(t, sess.CheckRedirect(Stdout))
	assert.NoError(t, sess.CheckRedirect(Stdin))
	assert.Equal(t, []audit.Outcome{audit.OutcomeExempt}, rec.outcomes())

	entries, err := os.ReadDir(s.SocketDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "exempt sessions never create a socket")
}

func TestApprovedSessionRelaysOutput(t *testing.T) {
	s := testSettings(t)
	rec := &memRecorder{}
	local := &printed{}
	sess := New(testInvocation(), s, local.print, WithRecorder(rec))
	require.False(t, sess.Exempt())

	done := make(chan error, 1)
	go func() { done <- sess.Pair(context.Background()) }()

	conn, r, prompt := pairClient(t, sess.SocketPath(), 'y')
	defer conn.Close()
	require.NoError(t, <-done)

	assert.Equal(t, "alice@build01:/home/alice$ /usr/bin/id\ny/n? [n]: ", prompt)
	assert.Equal(t, "/usr/bin/sudo_pair_approve 1000 31337\n", local.String())
	assert.Equal(t, pairing.Approved, sess.State())
	assert.True(t, sess.Paired())

	_, err := os.Lstat(sess.SocketPath())
	assert.True(t, os.IsNotExist(err), "socket path must be gone after rendezvous")

	echo := make([]byte, 2)
	_, err = io.ReadFull(r, echo)
	require.NoError(t, err)
	assert.Equal(t, "y\n", string(echo))

	require.NoError(t, sess.WriteOutput([]byte("uid=0(root)\n")))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "uid=0(root)\n", line)

	err = sess.CheckRedirect(Stdout)
	assert.True(t, fault.Is(err, fault.KindProhibited))

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, []audit.Outcome{audit.OutcomeApproved, audit.OutcomeProhibited}, rec.outcomes())
}

func TestDeniedSession(t *testing.T) {
	s := testSettings(t)
	rec := &memRecorder{}
	sess := New(testInvocation(), s, (&printed{}).print, WithRecorder(rec))

	done := make(chan error, 1)
	go func() { done <- sess.Pair(context.Background()) }()

	conn, r, _ := pairClient(t, sess.SocketPath(), 'n')
	defer conn.Close()

	err := <-done
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindDenied))
	assert.Equal(t, pairing.Denied, sess.State())
	assert.False(t, sess.Paired())
	assert.Equal(t, []audit.Outcome{audit.OutcomeDenied}, rec.outcomes())

	echo := make([]byte, 2)
	_, err = io.ReadFull(r, echo)
	require.NoError(t, err)
	assert.Equal(t, "n\n", string(echo), "a denying pair sees their reply")

	err = sess.WriteOutput([]byte("x"))
	assert.True(t, fault.Is(err, fault.KindTerminated))
}

func TestPairDisconnectTerminatesRelay(t *testing.T) {
	s := testSettings(t)
	rec := &memRecorder{}
	sess := New(testInvocation(), s, (&printed{}).print, WithRecorder(rec))

	done := make(chan error, 1)
	go func() { done <- sess.Pair(context.Background()) }()

	conn, _, _ := pairClient(t, sess.SocketPath(), 'Y')
	require.NoError(t, <-done)
	require.NoError(t, conn.Close())

	var err error
	for i := 0; i < 50 && err == nil; i++ {
		err = sess.WriteOutput([]byte("output after pair left\n"))
		time.Sleep(5 * time.Millisecond)
	}
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindTerminated))
	assert.False(t, sess.Paired())
	assert.Contains(t, rec.outcomes(), audit.OutcomeEnded)
}

func TestInterruptedSessionTerminates(t *testing.T) {
	s := testSettings(t)
	rec := &memRecorder{}
	window := func(ctx context.Context, fn func(ctx context.Context) error) error {
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		if err := fn(ctx); err != nil && ctx.Err() != nil {
			return fault.Wrap(interrupt.ErrInterrupted, fault.KindTerminated, "pairing")
		}
		return nil
	}
	sess := New(testInvocation(), s, (&printed{}).print, WithRecorder(rec), WithWindow(window))

	err := sess.Pair(context.Background())
	require.Error(t, err)
	assert.True(t, interrupt.Interrupted(err))
	assert.Equal(t, pairing.Terminated, sess.State())
	assert.Equal(t, []audit.Outcome{audit.OutcomeTerminated}, rec.outcomes())

	_, statErr := os.Lstat(sess.SocketPath())
	assert.True(t, os.IsNotExist(statErr), "aborted rendezvous must not leave the socket behind")
}

func TestUnsafeSocketDirIsConfigFault(t *testing.T) {
	s := testSettings(t)
	require.NoError(t, os.Chmod(s.SocketDir, 0o777))

	err := New(testInvocation(), s, (&printed{}).print).Pair(context.Background())
	assert.True(t, fault.Is(err, fault.KindConfig))
	assert.True(t, errors.Is(err, rendezvous.ErrUnsafeDir))
}

func TestAmbiguousElevationIsConfigFault(t *testing.T) {
	inv := testInvocation()
	inv.RunasEUID, inv.RunasEGID = inv.UID, inv.GID

	err := New(inv, testSettings(t), (&printed{}).print).Pair(context.Background())
	assert.True(t, fault.Is(err, fault.KindConfig))
	assert.True(t, errors.Is(err, rendezvous.ErrAmbiguousElevation))
}

func TestCustomPromptTemplates(t *testing.T) {
	s := testSettings(t)
	dir := t.TempDir()
	s.UserPromptPath = dir + "/user"
	s.PairPromptPath = dir + "/pair"
	require.NoError(t, os.WriteFile(s.UserPromptPath, []byte("run: %b %u %p\n"), 0o644))
	require.NoError(t, os.WriteFile(s.PairPromptPath, []byte("%U wants %C (%W x %H) y/n? [n]: "), 0o644))

	local := &printed{}
	sess := New(testInvocation(), s, local.print)
	done := make(chan error, 1)
	go func() { done <- sess.Pair(context.Background()) }()

	conn, _, prompt := pairClient(t, sess.SocketPath(), 'y')
	defer conn.Close()
	require.NoError(t, <-done)
	defer sess.Close()

	assert.Equal(t, "run: sudo_pair_approve 1000 31337\n", local.String())
	assert.Equal(t, "alice wants /usr/bin/id (80 x 24) y/n? [n]: ", prompt)
}
