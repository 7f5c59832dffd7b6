// Package rendezvous owns the single-use unix socket through which a pair
// reaches a pending elevated command.
//
// The socket path exists only between Listen and the end of Accept. It is
// created under a fully restrictive umask and has its final owner and
// mode applied before any connection is accepted, so no observer can
// connect while it still has default ownership.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrCollision is returned when a non-socket file occupies the socket path.
var ErrCollision = errors.New("path exists and is not a socket")

// Listener is a bound, permissioned socket waiting for exactly one peer.
type Listener struct {
	path string
	ln   *net.UnixListener

	unlinkOnce sync.Once
	closeOnce  sync.Once
}

// Listen creates the socket at path with the given ownership. A stale
// socket at path is removed first; any other file type is a collision.
func Listen(path string, owner Owner) (*Listener, error) {
	if err := clearStale(path); err != nil {
		return nil, err
	}

	prev := unix.Umask(0o777)
	defer unix.Umask(prev)

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(false)
	l := &Listener{path: path, ln: ln}

	if err := unix.Chown(path, int(owner.UID), int(owner.GID)); err != nil {
		l.Close()
		return nil, fmt.Errorf("chown %s to %d:%d: %w", path, owner.UID, owner.GID, err)
	}
	if err := unix.Chmod(path, owner.Mode); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod %s to %#o: %w", path, owner.Mode, err)
	}
	return l, nil
}

func clearStale(path string) error {
	var st unix.Stat_t
	err := unix.Lstat(path, &st)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return fmt.Errorf("%s: %w", path, ErrCollision)
	}
	if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}

// Path returns the filesystem path of the socket.
func (l *Listener) Path() string {
	return l.path
}

// Accept waits for one peer. Cancelling ctx aborts the wait. Whatever the
// outcome, the socket path is unlinked and the listener closed before
// Accept returns.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	defer l.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Now())
	})
	conn, err := l.ln.AcceptUnix()
	stop()
	l.unlink()

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("accept on %s: %w", l.path, ctx.Err())
		}
		return nil, fmt.Errorf("accept on %s: %w", l.path, err)
	}
	return &Conn{c: conn}, nil
}

// Close unlinks the path and stops listening. Safe to call repeatedly.
func (l *Listener) Close() error {
	l.unlink()
	var err error
	l.closeOnce.Do(func() {
		err = l.ln.Close()
	})
	return err
}

func (l *Listener) unlink() {
	l.unlinkOnce.Do(func() {
		_ = unix.Unlink(l.path)
	})
}

// Dial connects to the socket at path.
func Dial(ctx context.Context, path string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	return &Conn{c: c.(*net.UnixConn)}, nil
}

// Conn is the connected duplex channel to the pair.
type Conn struct {
	c *net.UnixConn

	closeOnce sync.Once
	closeErr  error
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.c.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.c.Write(p)
}

// ReadByteContext reads exactly one byte. Cancelling ctx unblocks the read.
func (c *Conn) ReadByteContext(ctx context.Context) (byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.c.SetReadDeadline(time.Now())
	})
	defer stop()

	var b [1]byte
	for {
		n, err := c.c.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, err
		}
	}
}

// CloseWrite shuts down the sending side, signalling EOF to the peer.
func (c *Conn) CloseWrite() error {
	return c.c.CloseWrite()
}

// Close shuts down both directions and releases the descriptor. Only the
// first call has an effect.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		raw, err := c.c.SyscallConn()
		if err == nil {
			_ = raw.Control(func(fd uintptr) {
				_ = unix.Shutdown(int(fd), unix.SHUT_RDWR)
			})
		}
		c.closeErr = c.c.Close()
	})
	return c.closeErr
}
