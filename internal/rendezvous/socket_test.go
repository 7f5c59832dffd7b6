package rendezvous

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shortDir returns a private directory with a path short enough for a
// unix socket address.
func shortDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sp")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	require.NoError(t, os.Chmod(dir, 0o700))
	return dir
}

func selfOwner(mode uint32) Owner {
	return Owner{UID: uint32(os.Geteuid()), GID: uint32(os.Getegid()), Mode: mode}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func TestListenAppliesOwnerAndMode(t *testing.T) {
	path := SocketPath(shortDir(t), 1000, 42)
	l, err := Listen(path, selfOwner(0o600))
	require.NoError(t, err)
	defer l.Close()

	info, err := os.Lstat(path)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, info.Mode().Type())
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAcceptUnlinksPath(t *testing.T) {
	path := SocketPath(shortDir(t), 1000, 43)
	l, err := Listen(path, selfOwner(0o600))
	require.NoError(t, err)

	dialed := make(chan *Conn, 1)
	go func() {
		c, err := Dial(context.Background(), path)
		if err != nil {
			dialed <- nil
			return
		}
		dialed <- c
	}()

	conn, err := l.Accept(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.False(t, exists(path), "socket path must be removed once a peer connects")

	peer := <-dialed
	require.NotNil(t, peer)
	defer peer.Close()

	_, err = peer.Write([]byte("y"))
	require.NoError(t, err)
	b, err := conn.ReadByteContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte('y'), b)
}

func TestAcceptCancelled(t *testing.T) {
	path := SocketPath(shortDir(t), 1000, 44)
	l, err := Listen(path, selfOwner(0o600))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = l.Accept(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, exists(path))
}

func TestCloseWithoutAcceptUnlinks(t *testing.T) {
	path := SocketPath(shortDir(t), 1000, 45)
	l, err := Listen(path, selfOwner(0o600))
	require.NoError(t, err)
	require.True(t, exists(path))

	require.NoError(t, l.Close())
	assert.False(t, exists(path))
	assert.NoError(t, l.Close())
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := SocketPath(shortDir(t), 1000, 46)
	stale, err := Listen(path, selfOwner(0o600))
	require.NoError(t, err)
	// Leave the stale node behind by closing only the descriptor.
	require.NoError(t, stale.ln.Close())
	require.True(t, exists(path))

	l, err := Listen(path, selfOwner(0o600))
	require.NoError(t, err)
	defer l.Close()
}

func TestListenRefusesNonSocket(t *testing.T) {
	path := filepath.Join(shortDir(t), "1000.47.sock")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o600))

	_, err := Listen(path, selfOwner(0o600))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCollision))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestReadByteContextCancelled(t *testing.T) {
	path := SocketPath(shortDir(t), 1000, 48)
	l, err := Listen(path, selfOwner(0o600))
	require.NoError(t, err)

	go func() {
		c, err := Dial(context.Background(), path)
		if err == nil {
			time.Sleep(time.Second)
			c.Close()
		}
	}()
	conn, err := l.Accept(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.ReadByteContext(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestReadByteContextPeerClosed(t *testing.T) {
	path := SocketPath(shortDir(t), 1000, 49)
	l, err := Listen(path, selfOwner(0o600))
	require.NoError(t, err)

	go func() {
		if c, err := Dial(context.Background(), path); err == nil {
			c.Close()
		}
	}()
	conn, err := l.Accept(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadByteContext(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnCloseIdempotent(t *testing.T) {
	path := SocketPath(shortDir(t), 1000, 50)
	l, err := Listen(path, selfOwner(0o600))
	require.NoError(t, err)

	go func() {
		if c, err := Dial(context.Background(), path); err == nil {
			defer c.Close()
			io.Copy(io.Discard, c)
		}
	}()
	conn, err := l.Accept(context.Background())
	require.NoError(t, err)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	_, err = conn.Write([]byte("x"))
	assert.Error(t, err)
}

func TestSocketPath(t *testing.T) {
	assert.Equal(t, "/var/run/sudo_pair/1000.4242.sock", SocketPath("/var/run/sudo_pair", 1000, 4242))
}
