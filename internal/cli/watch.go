package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hello-sally/jobwatch/internal/fetch"
	"github.com/hello-sally/jobwatch/internal/job"
	"github.com/hello-sally/jobwatch/internal/notify"
	"github.com/hello-sally/jobwatch/internal/watch"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Format  string
	BaseURL string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <report-id>",
		Short: "Follow one report's jobs in the foreground",
		Long: `Follow one report until its transcription and analysis jobs settle,
printing one line per completed or failed item.

Exits 1 if any job failed or was given up on.

Example:
  jobwatch watch 12
  jobwatch watch 12 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, job.ID(args[0]))
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", string(notify.FormatText), "output format (text|json)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "override service.base_url")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, id job.ID) error {
	format, err := notify.ParseFormat(opts.Format)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --format", err)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.BaseURL != "" {
		cfg.Service.BaseURL = opts.BaseURL
	}
	logger := opts.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failures atomic.Int32
	counting := notify.SinkFunc(func(n notify.Notification) {
		if n.Kind != notify.Succeeded {
			failures.Add(1)
		}
	})
	changed := make(chan struct{}, 1)

	client := fetch.NewClient(cfg.Service.BaseURL,
		fetch.WithTimeout(cfg.Service.RequestTimeout),
		fetch.WithToken(cfg.Service.AuthToken),
		fetch.WithLogger(logger),
	)
	settings := watch.SettingsFromConfig(cfg)
	settings.ReconcileInterval = 0
	mgr := watch.NewManager(client, settings,
		watch.WithSink(notify.Multi(notify.WriterSink(cmd.OutOrStdout(), format), counting)),
		watch.WithStatusHook(func(watch.Status) {
			select {
			case changed <- struct{}{}:
			default:
			}
		}),
		watch.WithLogger(logger),
	)
	defer mgr.Close()

	if err := mgr.Reconcile(ctx, id); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("read report %s", id), err)
	}
	if !anyActive(mgr) {
		logger.Info("nothing outstanding", "report", id)
		return nil
	}

	if err := waitIdle(ctx, mgr, changed); err != nil {
		return WrapExitError(ExitFailure, "interrupted", err)
	}
	if n := failures.Load(); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d job(s) failed or timed out", n))
	}
	return nil
}

func waitIdle(ctx context.Context, mgr *watch.Manager, changed <-chan struct{}) error {
	for anyActive(mgr) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
	return nil
}

func anyActive(mgr *watch.Manager) bool {
	for _, st := range mgr.Statuses() {
		if st.Active {
			return true
		}
	}
	return false
}
