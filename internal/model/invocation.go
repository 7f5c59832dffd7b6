// Package model holds the typed invocation context read from the host.
package model

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ppiankov/sudopair/internal/hostenv"
)

// Terminal dimensions used when the host does not report any.
const (
	DefaultLines = 24
	DefaultCols  = 80
)

// Invocation is the typed context of one elevated-command attempt. It is
// built once at open time and read-only afterwards.
type Invocation struct {
	UID    uint32
	EUID   uint32
	GID    uint32
	EGID   uint32
	Groups []uint32
	PID    int

	User     string
	Hostname string
	Cwd      string
	Lines    int
	Cols     int

	Command string
	Argv    []string

	RunasUID  uint32
	RunasEUID uint32
	RunasGID  uint32
	RunasEGID uint32
}

// NewInvocation reads the user-info and command-info groups the host
// passed at open time. argv is the command's argument vector as given to
// the host; argv[0] is the command name.
func NewInvocation(userInfo, commandInfo *hostenv.Options, argv []string) (*Invocation, error) {
	inv := &Invocation{Argv: append([]string(nil), argv...)}
	var err error

	if inv.UID, err = userInfo.Uint32("uid"); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	if inv.EUID, err = userInfo.Uint32Or("euid", inv.UID); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	if inv.GID, err = userInfo.Uint32("gid"); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	if inv.EGID, err = userInfo.Uint32Or("egid", inv.GID); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	if userInfo.Has("groups") {
		if inv.Groups, err = userInfo.Uint32List("groups"); err != nil {
			return nil, fmt.Errorf("user info: %w", err)
		}
	}
	if inv.PID, err = userInfo.Int("pid"); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	if inv.User, err = userInfo.String("user"); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	if inv.Hostname, err = userInfo.String("host"); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	if inv.Cwd, err = userInfo.String("cwd"); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	if inv.Lines, err = userInfo.IntOr("lines", DefaultLines); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	if inv.Cols, err = userInfo.IntOr("cols", DefaultCols); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	if inv.Lines <= 0 {
		inv.Lines = DefaultLines
	}
	if inv.Cols <= 0 {
		inv.Cols = DefaultCols
	}

	if inv.Command, err = commandInfo.String("command"); err != nil {
		return nil, fmt.Errorf("command info: %w", err)
	}
	if inv.RunasUID, err = commandInfo.Uint32("runas_uid"); err != nil {
		return nil, fmt.Errorf("command info: %w", err)
	}
	if inv.RunasEUID, err = commandInfo.Uint32Or("runas_euid", inv.RunasUID); err != nil {
		return nil, fmt.Errorf("command info: %w", err)
	}
	if inv.RunasGID, err = commandInfo.Uint32("runas_gid"); err != nil {
		return nil, fmt.Errorf("command info: %w", err)
	}
	if inv.RunasEGID, err = commandInfo.Uint32Or("runas_egid", inv.RunasGID); err != nil {
		return nil, fmt.Errorf("command info: %w", err)
	}

	return inv, nil
}

// CommandName is the base name of the resolved command path.
func (inv *Invocation) CommandName() string {
	return filepath.Base(inv.Command)
}

// CommandLine reconstructs the invocation as the resolved command path
// followed by its arguments.
func (inv *Invocation) CommandLine() string {
	parts := []string{inv.Command}
	if len(inv.Argv) > 1 {
		parts = append(parts, inv.Argv[1:]...)
	}
	return strings.Join(parts, " ")
}

// InGroups reports whether any of the invoking user's groups (including
// the primary gid) is in set.
func (inv *Invocation) InGroups(set []uint32) bool {
	if len(set) == 0 {
		return false
	}
	want := make(map[uint32]struct{}, len(set))
	for _, g := range set {
		want[g] = struct{}{}
	}
	if _, ok := want[inv.GID]; ok {
		return true
	}
	for _, g := range inv.Groups {
		if _, ok := want[g]; ok {
			return true
		}
	}
	return false
}

// ChangesUser reports whether the command runs as a different user.
func (inv *Invocation) ChangesUser() bool {
	return inv.RunasEUID != inv.UID
}

// ChangesGroup reports whether the command runs with a different group.
func (inv *Invocation) ChangesGroup() bool {
	return inv.RunasEGID != inv.GID
}
