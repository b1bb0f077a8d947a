package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hello-sally/jobwatch/internal/config"
	"github.com/hello-sally/jobwatch/internal/fetch"
	"github.com/hello-sally/jobwatch/internal/job"
	"github.com/hello-sally/jobwatch/internal/mock"
	"github.com/hello-sally/jobwatch/internal/notify"
	"github.com/hello-sally/jobwatch/internal/watch"
	"github.com/hello-sally/jobwatch/internal/ws"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port        int
	BaseURL     string
	Mock        bool
	MockEvery   time.Duration
	MockFailure float64
	Follow      []string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the watch daemon and its HTTP/websocket gateway",
		Long: `Run the watch daemon. Followed reports are reconciled against the report
service periodically, and notifications are pushed to websocket clients.

Example:
  jobwatch serve --follow 12 --follow 15
  jobwatch serve --mock --port 9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "override server.port")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "override service.base_url")
	cmd.Flags().BoolVar(&opts.Mock, "mock", false, "run an in-process simulated report service")
	cmd.Flags().DurationVar(&opts.MockEvery, "mock-step", 2*time.Second, "how often the simulated service advances its jobs")
	cmd.Flags().Float64Var(&opts.MockFailure, "mock-failure-rate", 0, "fraction of simulated jobs that fail (0-1)")
	cmd.Flags().StringSliceVar(&opts.Follow, "follow", nil, "report ids to reconcile at startup")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.BaseURL != "" {
		cfg.Service.BaseURL = opts.BaseURL
	}
	logger := opts.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	follow := toIDs(opts.Follow)
	if opts.Mock {
		base, seeded, err := startMock(ctx, opts, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "start simulated service", err)
		}
		cfg.Service.BaseURL = base
		follow = append(follow, seeded...)
	}

	d := newDaemon(cfg, logger)
	d.follow(ctx, follow)

	runDone := make(chan struct{})
	go func() {
		d.manager.Run(ctx)
		close(runDone)
	}()

	err = ws.ListenAndServe(ctx, cfg.Addr(), d.server.Handler(), logger)
	stop()
	<-runDone
	d.broadcaster.Stop()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "serve", err)
	}
	logger.Info("shut down")
	return nil
}

// daemon is the wired engine behind serve.
type daemon struct {
	logger      *slog.Logger
	manager     *watch.Manager
	broadcaster *ws.Broadcaster
	server      *ws.Server
}

func newDaemon(cfg *config.Config, logger *slog.Logger) *daemon {
	client := fetch.NewClient(cfg.Service.BaseURL,
		fetch.WithTimeout(cfg.Service.RequestTimeout),
		fetch.WithToken(cfg.Service.AuthToken),
		fetch.WithLogger(logger),
	)
	b := ws.NewBroadcaster(cfg.Broadcast.SnapshotInterval, ws.WithBroadcastLogger(logger))
	mgr := watch.NewManager(client, watch.SettingsFromConfig(cfg),
		watch.WithSink(notify.Multi(b, notify.LogSink(logger))),
		watch.WithStatusHook(b.QueueStatus),
		watch.WithLogger(logger),
	)
	b.SetStatusSource(mgr)
	srv := ws.NewServer(mgr, b,
		ws.WithAuthToken(cfg.Server.AuthToken),
		ws.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		ws.WithServerLogger(logger),
	)
	return &daemon{logger: logger, manager: mgr, broadcaster: b, server: srv}
}

// follow reconciles each report once. A report that cannot be read yet
// is still followed, so the periodic reconcile retries it.
func (d *daemon) follow(ctx context.Context, ids []job.ID) {
	for _, id := range ids {
		if err := d.manager.Reconcile(ctx, id); err != nil {
			d.logger.Warn("initial reconcile failed", "report", id, "error", err)
			d.manager.Follow(id)
		}
	}
}

// startMock serves a seeded simulated report service on a loopback port
// until ctx is done and returns its base URL.
func startMock(ctx context.Context, opts *ServeOptions, logger *slog.Logger) (string, []job.ID, error) {
	var svcOpts []mock.Option
	if opts.MockFailure > 0 {
		svcOpts = append(svcOpts, mock.WithFailureRate(opts.MockFailure, time.Now().UnixNano()))
	}
	svc := mock.NewService(svcOpts...)
	seeded := svc.Seed()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{Handler: svc.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("simulated service stopped", "error", err)
		}
	}()
	go svc.Run(ctx, opts.MockEvery)
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	base := fmt.Sprintf("http://%s", ln.Addr())
	logger.Info("simulated report service running", "url", base, "reports", len(seeded))
	return base, seeded, nil
}

func toIDs(raw []string) []job.ID {
	ids := make([]job.ID, 0, len(raw))
	for _, r := range raw {
		if r != "" {
			ids = append(ids, job.ID(r))
		}
	}
	return ids
}
