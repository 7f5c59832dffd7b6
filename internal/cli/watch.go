package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sudopair/internal/watch"
)

var (
	watchPoll     bool
	watchInterval time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchPoll, "poll", false, "Poll the directory instead of using inotify (for network filesystems)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Polling interval with --poll (default 2s)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream sessions as they start waiting for a pair",
	Long:  "Prints a line whenever a rendezvous socket appears or goes away.\nSessions already waiting are listed first. Stops on Ctrl-C.",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	dir := settings.SocketDir

	out := cmd.OutOrStdout()
	handle := func(e watch.Event) {
		fmt.Fprintf(out, "%s %-8s %-16s uid=%d pid=%d\n",
			time.Now().Format("15:04:05"),
			e.Kind,
			userName(e.Pending.UID),
			e.Pending.UID,
			e.Pending.PID,
		)
	}

	existing, err := watch.Scan(dir)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	for _, p := range existing {
		handle(watch.Event{Kind: watch.Created, Pending: p})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchPoll {
		return watch.NewPollWatcher(dir, handle, watchInterval).Run(ctx)
	}
	return watch.New(dir, handle).Run(ctx)
}
