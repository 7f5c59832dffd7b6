package rendezvous

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrUnsafeDir is returned when the socket directory could let another
// user plant or replace sockets.
var ErrUnsafeDir = errors.New("unsafe socket directory")

// CheckDir enforces the socket directory precondition: a real directory,
// owned by root or by the current effective user, and not writable by
// group or others.
func CheckDir(path string) error {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return fmt.Errorf("stat socket dir %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return fmt.Errorf("%s is not a directory: %w", path, ErrUnsafeDir)
	}
	if st.Uid != 0 && int(st.Uid) != unix.Geteuid() {
		return fmt.Errorf("%s is owned by uid %d: %w", path, st.Uid, ErrUnsafeDir)
	}
	if st.Mode&0o022 != 0 {
		return fmt.Errorf("%s has mode %#o: %w", path, st.Mode&0o777, ErrUnsafeDir)
	}
	return nil
}
