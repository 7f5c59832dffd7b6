package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/sudopair/internal/config"
)

func resetInitFlags(dir string) {
	initDir = dir
	initForce = false
	initCreateSocketDir = false
}

func TestRunInitWritesFiles(t *testing.T) {
	dir := t.TempDir()
	resetInitFlags(dir)

	var out bytes.Buffer
	initCmd.SetOut(&out)
	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	for _, name := range []string{"sudo_pair.yaml", "sudo_pair.prompt.user", "sudo_pair.prompt.pair"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}

	s := config.Default()
	if err := s.LoadFile(filepath.Join(dir, "sudo_pair.yaml")); err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if s.UserPromptPath != filepath.Join(dir, "sudo_pair.prompt.user") {
		t.Errorf("user_prompt_path = %q", s.UserPromptPath)
	}
	if s.PairPromptPath != filepath.Join(dir, "sudo_pair.prompt.pair") {
		t.Errorf("pair_prompt_path = %q", s.PairPromptPath)
	}
	if !strings.Contains(out.String(), "Created:") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestRunInitNoOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	resetInitFlags(dir)

	sentinel := "%U wants %C\n"
	pairPath := filepath.Join(dir, "sudo_pair.prompt.pair")
	if err := os.WriteFile(pairPath, []byte(sentinel), 0o644); err != nil {
		t.Fatal(err)
	}

	initCmd.SetOut(&bytes.Buffer{})
	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	data, _ := os.ReadFile(pairPath)
	if string(data) != sentinel {
		t.Error("existing prompt was overwritten without --force")
	}

	initForce = true
	defer func() { initForce = false }()
	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit --force failed: %v", err)
	}
	data, _ = os.ReadFile(pairPath)
	if string(data) == sentinel {
		t.Error("--force did not overwrite the prompt")
	}
}
