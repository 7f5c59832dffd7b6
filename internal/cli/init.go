package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sudopair/internal/config"
	"github.com/ppiankov/sudopair/internal/prompt"
)

var (
	initDir             string
	initForce           bool
	initCreateSocketDir bool
)

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", "/etc", "Directory for sudo_pair.yaml and the prompt templates")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
	initCmd.Flags().BoolVar(&initCreateSocketDir, "create-socket-dir", false, "Create the socket directory with mode 0700")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default plugin configuration and prompt templates",
	Long: `Creates sudo_pair.yaml, sudo_pair.prompt.user and sudo_pair.prompt.pair.

Then load the plugin from sudo.conf:
  Plugin sudo_pair sudo_pair.so config_path=/etc/sudo_pair.yaml`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var created []string

	userPrompt := filepath.Join(initDir, "sudo_pair.prompt.user")
	pairPrompt := filepath.Join(initDir, "sudo_pair.prompt.pair")
	cfgPath := filepath.Join(initDir, "sudo_pair.yaml")

	cfg, err := initConfigYAML(userPrompt, pairPrompt)
	if err != nil {
		return err
	}

	files := []struct {
		path    string
		content string
	}{
		{cfgPath, cfg},
		{userPrompt, string(prompt.DefaultUserTemplate)},
		{pairPrompt, string(prompt.DefaultPairTemplate)},
	}
	for _, f := range files {
		wrote, err := writeIfMissing(f.path, f.content)
		if err != nil {
			return err
		}
		if wrote {
			created = append(created, f.path)
		}
	}

	if initCreateSocketDir {
		if err := os.MkdirAll(config.DefaultSocketDir, 0o700); err != nil {
			return fmt.Errorf("create socket directory: %w", err)
		}
		if err := os.Chmod(config.DefaultSocketDir, 0o700); err != nil {
			return fmt.Errorf("chmod socket directory: %w", err)
		}
		created = append(created, config.DefaultSocketDir+"/")
	}

	fmt.Fprintln(out, "sudo_pair init complete.")
	fmt.Fprintln(out)
	if len(created) > 0 {
		fmt.Fprintln(out, "Created:")
		for _, path := range created {
			fmt.Fprintf(out, "  %s\n", path)
		}
	} else {
		fmt.Fprintln(out, "All files already exist (use --force to overwrite).")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Verify:")
	fmt.Fprintf(out, "  sudo_pair_approve doctor --config %s\n", cfgPath)
	return nil
}

// initConfigYAML points the default config at the prompt files being
// written and checks the result still parses.
func initConfigYAML(userPrompt, pairPrompt string) (string, error) {
	content := config.DefaultConfigYAML()
	content = strings.Replace(content, config.DefaultUserPromptPath, userPrompt, 1)
	content = strings.Replace(content, config.DefaultPairPromptPath, pairPrompt, 1)

	var f config.File
	if err := yaml.Unmarshal([]byte(content), &f); err != nil {
		return "", fmt.Errorf("generate config: %w", err)
	}
	return content, nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
