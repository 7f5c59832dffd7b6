package rendezvous

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ppiankov/sudopair/internal/config"
	"github.com/ppiankov/sudopair/internal/model"
)

// groupOnlyMode lets members of the target group connect while denying
// the owning (invoking) user. It also masks an explicit SocketMode in
// the group-only case.
const groupOnlyMode = 0o070

// ErrAmbiguousElevation is returned when the command runs as neither a
// different user nor a different group, so no second identity exists that
// could own the socket.
var ErrAmbiguousElevation = errors.New("elevation changes neither user nor group")

// Owner is the ownership and permission applied to a socket before it
// accepts connections.
type Owner struct {
	UID  uint32
	GID  uint32
	Mode uint32
}

func (o Owner) String() string {
	return fmt.Sprintf("%d:%d %#o", o.UID, o.GID, o.Mode)
}

// DeriveOwner picks the identity allowed to connect to the socket.
//
// Elevating to another user hands the socket to that user with the
// configured mode. Elevating only the group leaves the invoker as owner
// but grants access to the group alone, so the invoker cannot connect to
// approve themselves. Explicit settings override each field, except that
// a group-only socket never carries owner or other permission bits.
func DeriveOwner(inv *model.Invocation, s *config.Settings) (Owner, error) {
	var o Owner
	switch {
	case inv.ChangesUser():
		o = Owner{UID: inv.RunasEUID, GID: inv.RunasEGID, Mode: s.Mode()}
	case inv.ChangesGroup():
		o = Owner{UID: inv.RunasEUID, GID: inv.RunasEGID, Mode: groupOnlyMode}
		if s.SocketMode != nil {
			o.Mode = *s.SocketMode & groupOnlyMode
		}
	default:
		return Owner{}, fmt.Errorf("uid %d to %d, gid %d to %d: %w",
			inv.UID, inv.RunasEUID, inv.GID, inv.RunasEGID, ErrAmbiguousElevation)
	}

	if s.SocketUID != nil {
		o.UID = *s.SocketUID
	}
	if s.SocketGID != nil {
		o.GID = *s.SocketGID
	}
	return o, nil
}

// SocketPath returns the rendezvous path for an invocation.
func SocketPath(dir string, uid uint32, pid int) string {
	return filepath.Join(dir, fmt.Sprintf("%d.%d.sock", uid, pid))
}
