// Command fgacurl sends authenticated requests to an authorization service
// using the same configuration surface as the client library.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/fgaclient"
	"github.com/torosent/fgaclient/internal/config"
	"github.com/torosent/fgaclient/internal/logging"
	"github.com/torosent/fgaclient/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what the subcommands share once the root command has loaded
// the configuration.
type app struct {
	stdout io.Writer
	stderr io.Writer
	format string

	cfg    *config.Config
	logger *slog.Logger
	tracer *tracing.Provider
	client *fgaclient.Client
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer a.close()
	return root.ExecuteContext(ctx)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "fgacurl",
		Short:         "Send authenticated requests to an authorization service",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
				return nil
			}
			return a.setup(cmd)
		},
	}
	config.RegisterFlags(root)
	root.PersistentFlags().StringVarP(&a.format, "output", "o", formatJSON, "Output format: json or yaml")

	root.AddCommand(newTokenCommand(a), newRequestCommand(a), newStreamCommand(a))
	return root
}

// setup loads and validates the configuration and builds the client.
func (a *app) setup(cmd *cobra.Command) error {
	if err := checkFormat(a.format); err != nil {
		return err
	}
	cfg, err := config.NewLoader().LoadFlags(cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Log, a.stderr)

	a.tracer, err = tracing.Init(cmd.Context(), cfg.Tracing)
	if err != nil {
		return err
	}

	a.client, err = fgaclient.New(cfg,
		fgaclient.WithLogger(a.logger),
		fgaclient.WithTracer(a.tracer.Tracer()),
	)
	if err != nil {
		return err
	}
	a.logger.Debug("client ready", "api_url", cfg.APIURL, "mode", cfg.Mode, "credentials", cfg.Credentials.String())
	return nil
}

func (a *app) close() {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn("shutdown", "error", err)
	}
}
