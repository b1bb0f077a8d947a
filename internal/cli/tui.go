package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hello-sally/jobwatch/internal/tui/app"
	"github.com/hello-sally/jobwatch/internal/tui/client"
)

// TUIOptions holds flags for the tui command.
type TUIOptions struct {
	*RootOptions
	URL     string
	Token   string
	LogFile string
}

// NewTUICommand creates the tui command.
func NewTUICommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TUIOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Show live watch status from a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "daemon websocket URL (default ws://<server.host>:<server.port>/ws)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "auth token (default server.auth_token)")
	cmd.Flags().StringVar(&opts.LogFile, "log-file", "", "write logs here while the TUI runs")

	return cmd
}

func runTUI(cmd *cobra.Command, opts *TUIOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	url := opts.URL
	if url == "" {
		url = fmt.Sprintf("ws://%s/ws", cfg.Addr())
	}
	token := opts.Token
	if token == "" {
		token = cfg.Server.AuthToken
	}

	// Logging to stderr would corrupt the screen.
	var w io.Writer = io.Discard
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return WrapExitError(ExitCommandError, "open log file", err)
		}
		defer f.Close()
		w = f
	}
	logger := newLogger(w, opts.Verbose)

	ws := client.NewWSClient(url, token, logger)
	p := tea.NewProgram(app.New(ws), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return WrapExitError(ExitFailure, "tui", err)
	}
	return nil
}
