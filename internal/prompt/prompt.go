// Package prompt renders the user-facing and pair-facing prompts.
//
// A template is raw bytes with a single escape byte, '%'. The byte after
// an escape selects a substitution; unknown directives are emitted
// verbatim, and substituted text is never rescanned.
package prompt

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ppiankov/sudopair/internal/model"
)

// Escape introduces a directive.
const Escape = '%'

// Built-in templates used when the configured files cannot be read.
var (
	DefaultUserTemplate = []byte("%B %u %p\n")
	DefaultPairTemplate = []byte("%U@%h:%d$ %C\ny/n? [n]: ")
)

// Template is an immutable prompt template.
type Template struct {
	raw []byte
}

// New wraps raw template bytes. The slice is copied.
func New(raw []byte) Template {
	return Template{raw: append([]byte(nil), raw...)}
}

// Load reads a template file. On any read error it returns fallback
// together with the error so the caller can log it; a missing template
// is never fatal.
func Load(path string, fallback []byte) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return New(fallback), err
	}
	return Template{raw: data}, nil
}

// Bytes returns the unexpanded template.
func (t Template) Bytes() []byte {
	return append([]byte(nil), t.raw...)
}

// Expand renders t with subs.
func (t Template) Expand(subs map[byte][]byte) []byte {
	return Expand(t.raw, subs)
}

// Expand renders template using subs. A trailing lone escape byte is
// dropped.
func Expand(template []byte, subs map[byte][]byte) []byte {
	out := make([]byte, 0, len(template))
	for {
		i := bytes.IndexByte(template, Escape)
		if i < 0 {
			return append(out, template...)
		}
		out = append(out, template[:i]...)
		if i+1 >= len(template) {
			return out
		}
		code := template[i+1]
		if v, ok := subs[code]; ok {
			out = append(out, v...)
		} else {
			out = append(out, Escape, code)
		}
		template = template[i+2:]
	}
}

// Substitutions builds the directive table for an invocation.
//
//	%b  approval binary name      %B  approval binary path
//	%C  full command line         %d  working directory
//	%h  hostname                  %H  terminal rows
//	%g  invoking gid              %p  pid
//	%u  invoking uid              %U  username
//	%W  terminal columns
func Substitutions(inv *model.Invocation, binaryPath string) map[byte][]byte {
	lines, cols := inv.Lines, inv.Cols
	if lines <= 0 {
		lines = model.DefaultLines
	}
	if cols <= 0 {
		cols = model.DefaultCols
	}
	return map[byte][]byte{
		'b': []byte(filepath.Base(binaryPath)),
		'B': []byte(binaryPath),
		'C': []byte(inv.CommandLine()),
		'd': []byte(inv.Cwd),
		'h': []byte(inv.Hostname),
		'H': []byte(strconv.Itoa(lines)),
		'g': []byte(strconv.FormatUint(uint64(inv.GID), 10)),
		'p': []byte(strconv.Itoa(inv.PID)),
		'u': []byte(strconv.FormatUint(uint64(inv.UID), 10)),
		'U': []byte(inv.User),
		'W': []byte(strconv.Itoa(cols)),
	}
}
