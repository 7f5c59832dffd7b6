package cli

import (
	"fmt"
	"os/user"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sudopair/internal/watch"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List sessions waiting for a pair",
	Long:  "Shows every rendezvous socket in the socket directory with the user and\nprocess it belongs to.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	list, err := watch.Scan(settings.SocketDir)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", settings.SocketDir, err)
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No pending sessions.")
		return nil
	}

	fmt.Fprintf(out, "%-16s %-8s %-8s %s\n", "USER", "UID", "PID", "WAITING")
	for _, p := range list {
		fmt.Fprintf(out, "%-16s %-8d %-8d %s\n",
			truncate(userName(p.UID), 16),
			p.UID,
			p.PID,
			time.Since(p.Created).Round(time.Second),
		)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Approve with: sudo_pair_approve approve <uid> <pid>")
	return nil
}

// userName resolves uid to a login name, falling back to the number.
func userName(uid uint32) string {
	id := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(id); err == nil {
		return u.Username
	}
	return id
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
