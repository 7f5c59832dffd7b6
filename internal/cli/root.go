package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sudopair/internal/config"
	"github.com/ppiankov/sudopair/internal/logging"
)

var (
	configPath    string
	socketDirFlag string
	verbose       bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "Plugin configuration file")
	rootCmd.PersistentFlags().StringVar(&socketDirFlag, "socket-dir", "", "Rendezvous socket directory (default: from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
}

var rootCmd = &cobra.Command{
	Use:   "sudo_pair_approve",
	Short: "Approve and watch sudo sessions that require a pair",
	Long: "Connects to a pending sudo_pair session, shows what is about to run and\n" +
		"answers y/n. Approved sessions are mirrored to this terminal until the\n" +
		"command exits.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := ""
		if verbose {
			level = "debug"
		}
		return logging.Configure(logging.Config{Level: level})
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSettings reads the plugin configuration the same way the plugin
// does, minus the plugin options only sudo knows about.
func loadSettings() (*config.Settings, error) {
	s := config.Default()
	if err := s.LoadFile(configPath); err != nil {
		return nil, err
	}
	if socketDirFlag != "" {
		s.SocketDir = socketDirFlag
	}
	return s, nil
}
