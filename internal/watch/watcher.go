// Package watch finds invocations waiting for a pair by looking at the
// rendezvous socket directory.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollDefault is the polling interval when fsnotify is unavailable.
const pollDefault = 2 * time.Second

// Pending is a socket waiting for a pair.
type Pending struct {
	Path    string
	UID     uint32
	PID     int
	Created time.Time
}

// Kind says whether a socket appeared or went away.
type Kind int

const (
	Created Kind = iota
	Removed
)

func (k Kind) String() string {
	if k == Removed {
		return "removed"
	}
	return "created"
}

// Event reports a change in the socket directory.
type Event struct {
	Kind    Kind
	Pending Pending
}

// ParseSocketName splits "{uid}.{pid}.sock" into its parts.
func ParseSocketName(name string) (uid uint32, pid int, ok bool) {
	base, found := strings.CutSuffix(name, ".sock")
	if !found {
		return 0, 0, false
	}
	u, p, found := strings.Cut(base, ".")
	if !found {
		return 0, 0, false
	}
	uv, err := strconv.ParseUint(u, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	pv, err := strconv.Atoi(p)
	if err != nil || pv <= 0 {
		return 0, 0, false
	}
	return uint32(uv), pv, true
}

func pendingFor(path string) (Pending, bool) {
	uid, pid, ok := ParseSocketName(filepath.Base(path))
	if !ok {
		return Pending{}, false
	}
	return Pending{Path: path, UID: uid, PID: pid}, true
}

// Scan lists the sockets currently in dir, oldest first. A missing
// directory has nothing pending.
func Scan(dir string) ([]Pending, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Pending
	for _, e := range entries {
		if e.Type()&os.ModeSocket == 0 {
			continue
		}
		p, ok := pendingFor(filepath.Join(dir, e.Name()))
		if !ok {
			continue
		}
		if info, err := e.Info(); err == nil {
			p.Created = info.ModTime()
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

// Watcher streams socket directory changes using fsnotify.
type Watcher struct {
	dir     string
	handler func(Event)
}

// New creates a watcher for dir.
func New(dir string, handler func(Event)) *Watcher {
	return &Watcher{dir: dir, handler: handler}
}

// Run calls the handler for every socket created or removed. Blocks
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			p, ok := pendingFor(event.Name)
			if !ok {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				p.Created = time.Now()
				w.handler(Event{Kind: Created, Pending: p})
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.handler(Event{Kind: Removed, Pending: p})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// PollWatcher finds changes by rescanning the directory. Used where
// fsnotify is unavailable.
type PollWatcher struct {
	dir      string
	handler  func(Event)
	interval time.Duration
	seen     map[string]Pending
}

// NewPollWatcher creates a polling watcher. A zero interval uses the
// default.
func NewPollWatcher(dir string, handler func(Event), interval time.Duration) *PollWatcher {
	if interval == 0 {
		interval = pollDefault
	}
	return &PollWatcher{
		dir:      dir,
		handler:  handler,
		interval: interval,
		seen:     make(map[string]Pending),
	}
}

// Run polls until ctx is cancelled.
func (w *PollWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *PollWatcher) scan() {
	list, err := Scan(w.dir)
	if err != nil {
		return
	}
	now := make(map[string]Pending, len(list))
	for _, p := range list {
		now[p.Path] = p
		if _, ok := w.seen[p.Path]; !ok {
			w.handler(Event{Kind: Created, Pending: p})
		}
	}
	for path, p := range w.seen {
		if _, ok := now[path]; !ok {
			w.handler(Event{Kind: Removed, Pending: p})
		}
	}
	w.seen = now
}
