package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sudopair/internal/history"
)

var (
	historyPath   string
	historyLimit  int
	historyFormat string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&historyPath, "history", history.DefaultPath(), "Local session history database")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of sessions to show (0 for all)")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "text", "Output format (text|json)")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show sessions you were asked to approve",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.Open(historyPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	list, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyFormat == "json" {
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return nil
	}
	fmt.Fprintf(out, "%-19s %-9s %-8s %-8s %-10s %s\n", "STARTED", "DECISION", "UID", "PID", "BYTES", "COMMAND")
	for _, s := range list {
		fmt.Fprintf(out, "%-19s %-9s %-8d %-8d %-10d %s\n",
			s.StartedAt.Format("2006-01-02 15:04:05"),
			s.Decision,
			s.UID,
			s.PID,
			s.Bytes,
			truncate(promptSummary(s.Prompt), 50),
		)
	}
	return nil
}

// promptSummary is the first line of the prompt the pair saw.
func promptSummary(prompt string) string {
	for i := 0; i < len(prompt); i++ {
		if prompt[i] == '\n' || prompt[i] == '\r' {
			return prompt[:i]
		}
	}
	return prompt
}
