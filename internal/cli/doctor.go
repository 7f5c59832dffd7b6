package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sudopair/internal/config"
	"github.com/ppiankov/sudopair/internal/plugin"
	"github.com/ppiankov/sudopair/internal/prompt"
	"github.com/ppiankov/sudopair/internal/rendezvous"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the plugin configuration and socket directory",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	checks := doctorChecks()

	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(out, line)
	}

	fmt.Fprintln(out)
	if hasFailures {
		fmt.Fprintln(out, "Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func doctorChecks() []checkResult {
	var checks []checkResult

	checks = append(checks, checkResult{
		label:  "version",
		ok:     true,
		detail: fmt.Sprintf("%s %s", plugin.Name, plugin.Version),
	})

	s := config.Default()
	if _, err := os.Stat(configPath); err != nil {
		checks = append(checks, checkResult{
			label:  "config",
			ok:     true,
			detail: fmt.Sprintf("%s not found, using built-in defaults", configPath),
		})
	} else if err := s.LoadFile(configPath); err != nil {
		checks = append(checks, checkResult{
			label:  "config",
			ok:     false,
			detail: err.Error(),
			fix:    "sudo_pair_approve init --force",
		})
		return checks
	} else {
		checks = append(checks, checkResult{label: "config", ok: true, detail: configPath})
	}
	if socketDirFlag != "" {
		s.SocketDir = socketDirFlag
	}

	if err := rendezvous.CheckDir(s.SocketDir); err != nil {
		checks = append(checks, checkResult{
			label:  "socket dir",
			ok:     false,
			detail: err.Error(),
			fix:    fmt.Sprintf("sudo install -d -o root -m 0700 %s", s.SocketDir),
		})
	} else {
		checks = append(checks, checkResult{label: "socket dir", ok: true, detail: s.SocketDir})
	}

	if _, err := os.Stat(s.BinaryPath); err != nil {
		checks = append(checks, checkResult{
			label:  "approval binary",
			ok:     false,
			detail: fmt.Sprintf("%s missing", s.BinaryPath),
			fix:    "install sudo_pair_approve or set binary_path",
		})
	} else {
		checks = append(checks, checkResult{label: "approval binary", ok: true, detail: s.BinaryPath})
	}

	for _, p := range []struct {
		label, path string
		fallback    []byte
	}{
		{"user prompt", s.UserPromptPath, prompt.DefaultUserTemplate},
		{"pair prompt", s.PairPromptPath, prompt.DefaultPairTemplate},
	} {
		if _, err := prompt.Load(p.path, p.fallback); err != nil {
			checks = append(checks, checkResult{
				label:  p.label,
				ok:     true,
				detail: fmt.Sprintf("%s unreadable, built-in template used", p.path),
			})
			continue
		}
		checks = append(checks, checkResult{label: p.label, ok: true, detail: p.path})
	}

	if len(s.GidsEnforced) == 0 {
		checks = append(checks, checkResult{
			label:  "gids_enforced",
			ok:     false,
			detail: "empty, no invocation will require a pair",
			fix:    "set gids_enforced in " + configPath,
		})
	} else {
		checks = append(checks, checkResult{label: "gids_enforced", ok: true, detail: fmt.Sprint(s.GidsEnforced)})
	}
	return checks
}
