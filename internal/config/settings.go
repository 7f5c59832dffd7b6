// Package config resolves plugin settings from defaults, a YAML file and
// plugin options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sudopair/internal/fault"
	"github.com/ppiankov/sudopair/internal/hostenv"
)

// Built-in defaults.
const (
	DefaultBinaryPath     = "/usr/bin/sudo_pair_approve"
	DefaultSocketDir      = "/var/run/sudo_pair"
	DefaultSocketMode     = 0o700
	DefaultUserPromptPath = "/etc/sudo_pair.prompt.user"
	DefaultPairPromptPath = "/etc/sudo_pair.prompt.pair"
	DefaultConfigPath     = "/etc/sudo_pair.yaml"
)

// Settings is the plugin configuration resolved once at open time.
type Settings struct {
	BinaryPath string
	SocketDir  string

	// Explicit socket ownership overrides. Nil means derive from the
	// invocation.
	SocketUID  *uint32
	SocketGID  *uint32
	SocketMode *uint32

	GidsEnforced []uint32
	GidsExempted []uint32

	UserPromptPath string
	PairPromptPath string

	// AuditLog is the hash-chained pairing log. Empty disables it.
	AuditLog string
	LogLevel string
	LogFile  string
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		BinaryPath:     DefaultBinaryPath,
		SocketDir:      DefaultSocketDir,
		UserPromptPath: DefaultUserPromptPath,
		PairPromptPath: DefaultPairPromptPath,
	}
}

// Mode returns the configured socket mode, or DefaultSocketMode.
func (s *Settings) Mode() uint32 {
	if s.SocketMode != nil {
		return *s.SocketMode
	}
	return DefaultSocketMode
}

// File is the on-disk YAML form. Modes are octal strings ("0700").
type File struct {
	BinaryPath     string   `yaml:"binary_path"`
	SocketDir      string   `yaml:"socket_dir"`
	SocketUID      *uint32  `yaml:"socket_uid"`
	SocketGID      *uint32  `yaml:"socket_gid"`
	SocketMode     string   `yaml:"socket_mode"`
	GidsEnforced   []uint32 `yaml:"gids_enforced"`
	GidsExempted   []uint32 `yaml:"gids_exempted"`
	UserPromptPath string   `yaml:"user_prompt_path"`
	PairPromptPath string   `yaml:"pair_prompt_path"`
	AuditLog       string   `yaml:"audit_log"`
	LogLevel       string   `yaml:"log_level"`
	LogFile        string   `yaml:"log_file"`
}

// LoadFile overlays the YAML file at path onto s.
// A missing file leaves s unchanged. Invalid YAML returns an error.
func (s *Settings) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return s.apply(f)
}

func (s *Settings) apply(f File) error {
	setString(&s.BinaryPath, f.BinaryPath)
	setString(&s.SocketDir, f.SocketDir)
	setString(&s.UserPromptPath, f.UserPromptPath)
	setString(&s.PairPromptPath, f.PairPromptPath)
	setString(&s.AuditLog, f.AuditLog)
	setString(&s.LogLevel, f.LogLevel)
	setString(&s.LogFile, f.LogFile)
	if f.SocketUID != nil {
		s.SocketUID = f.SocketUID
	}
	if f.SocketGID != nil {
		s.SocketGID = f.SocketGID
	}
	if f.SocketMode != "" {
		mode, err := ParseMode(f.SocketMode)
		if err != nil {
			return fmt.Errorf("socket_mode: %w", err)
		}
		s.SocketMode = &mode
	}
	if f.GidsEnforced != nil {
		s.GidsEnforced = f.GidsEnforced
	}
	if f.GidsExempted != nil {
		s.GidsExempted = f.GidsExempted
	}
	return nil
}

// Resolve builds Settings from defaults, the optional YAML file named by
// the config_path option (DefaultConfigPath when unset), and finally the
// plugin options themselves. Every failure is a configuration fault.
func Resolve(opts *hostenv.Options) (*Settings, error) {
	s := Default()

	path, _, err := opts.First("ConfigPath", "config_path")
	if err != nil {
		return nil, fault.Config("config_path", err)
	}
	if path == "" {
		path = DefaultConfigPath
	}
	if err := s.LoadFile(path); err != nil {
		return nil, fault.Config("load config", err)
	}

	if err := s.applyOptions(opts); err != nil {
		return nil, fault.Config("plugin options", err)
	}
	if !strings.HasPrefix(s.SocketDir, "/") {
		return nil, fault.Config("socket_dir", fmt.Errorf("must be absolute, got %q", s.SocketDir))
	}
	return s, nil
}

func (s *Settings) applyOptions(opts *hostenv.Options) error {
	strs := []struct {
		dst  *string
		keys []string
	}{
		{&s.BinaryPath, []string{"BinaryPath", "binary_path"}},
		{&s.SocketDir, []string{"SocketDir", "socket_dir"}},
		{&s.UserPromptPath, []string{"UserPromptPath", "user_prompt_path"}},
		{&s.PairPromptPath, []string{"PairPromptPath", "pair_prompt_path"}},
		{&s.AuditLog, []string{"AuditLog", "audit_log"}},
		{&s.LogLevel, []string{"LogLevel", "log_level"}},
		{&s.LogFile, []string{"LogFile", "log_file"}},
	}
	for _, o := range strs {
		v, ok, err := opts.First(o.keys...)
		if err != nil {
			return err
		}
		if ok {
			*o.dst = v
		}
	}

	if v, ok, err := opts.First("SocketUid", "socket_uid"); err != nil {
		return err
	} else if ok {
		id, err := parseID("SocketUid", v)
		if err != nil {
			return err
		}
		s.SocketUID = &id
	}
	if v, ok, err := opts.First("SocketGid", "socket_gid"); err != nil {
		return err
	} else if ok {
		id, err := parseID("SocketGid", v)
		if err != nil {
			return err
		}
		s.SocketGID = &id
	}
	if v, ok, err := opts.First("SocketMode", "socket_mode"); err != nil {
		return err
	} else if ok {
		mode, err := ParseMode(v)
		if err != nil {
			return fmt.Errorf("SocketMode: %w", err)
		}
		s.SocketMode = &mode
	}
	if v, ok, err := opts.First("GidsEnforced", "gids_enforced"); err != nil {
		return err
	} else if ok {
		ids, err := hostenv.ParseIDList("GidsEnforced", v)
		if err != nil {
			return err
		}
		s.GidsEnforced = ids
	}
	if v, ok, err := opts.First("GidsExempted", "gids_exempted"); err != nil {
		return err
	} else if ok {
		ids, err := hostenv.ParseIDList("GidsExempted", v)
		if err != nil {
			return err
		}
		s.GidsExempted = ids
	}
	return nil
}

// ParseMode parses an octal permission string such as "0700" or "700".
func ParseMode(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0o")
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", s)
	}
	if mode&^0o777 != 0 {
		return 0, fmt.Errorf("mode %#o has bits outside 0777", mode)
	}
	return uint32(mode), nil
}

func parseID(key, s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid id %q", key, s)
	}
	return uint32(n), nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// DefaultConfigYAML returns a commented YAML file for `sudo_pair_approve init`.
func DefaultConfigYAML() string {
	return `# sudo_pair configuration
# Generated by: sudo_pair_approve init
#
# Plugin options given on the sudo.conf Plugin line override these values.

# The approval client. Running it through sudo never requires a pair.
binary_path: /usr/bin/sudo_pair_approve

# Directory for rendezvous sockets. Must be owned by root and must not be
# group or world writable.
socket_dir: /var/run/sudo_pair

# Socket ownership overrides. Leave unset to derive from the target user.
# socket_uid: 0
# socket_gid: 0
# socket_mode: "0700"
# When only the group changes (sudo -g), socket_mode is masked to its
# group bits so the invoking user can never connect.

# Pairing is required for members of gids_enforced, unless they are also
# members of gids_exempted.
gids_enforced: [0]
gids_exempted: []

user_prompt_path: /etc/sudo_pair.prompt.user
pair_prompt_path: /etc/sudo_pair.prompt.pair

# Hash-chained JSONL log of pairing outcomes. Empty disables it.
audit_log: ""

# Diagnostic log for the plugin itself (debug, info, warn, error).
log_level: warn
log_file: ""
`
}
