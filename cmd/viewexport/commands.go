package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/canectors/viewexport/internal/cli"
	"github.com/canectors/viewexport/internal/config"
	"github.com/canectors/viewexport/internal/factory"
	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/internal/persistence"
	"github.com/canectors/viewexport/internal/reporting"
	"github.com/canectors/viewexport/internal/runtime"
	"github.com/canectors/viewexport/internal/server"
	"github.com/canectors/viewexport/pkg/export"
)

// sourceTimeout bounds header reads of the column listing.
const sourceTimeout = 30 * time.Second

// loadConfig parses, validates and converts the file at path, printing
// whatever makes it unusable.
func (a *app) loadConfig(path string) (*export.Config, *config.Result, error) {
	res := config.ParseFile(path)
	if code := cli.PrintLoadResult(a.errOut, res, a.verbose, a.quiet); code != cli.ExitSuccess {
		return nil, res, exitWith(code, nil)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, res, exitWith(cli.ExitValidationError, err)
	}
	return cfg, res, nil
}

func newValidateCmd(a *app) *cobra.Command {
	var checkSource bool
	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate an export configuration file",
		Long: `Validate an export configuration file against the schema, then check
its settings for consistency.

With --check-source the row source of a row-driven configuration is opened
and every column the configuration references must exist in it.

Exit codes:
  0 - Configuration is valid (warnings may be printed)
  1 - Validation errors
  2 - Parse errors (invalid JSON/YAML syntax, unreadable file)

Examples:
  viewexport validate export.json
  viewexport validate --check-source export.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !a.quiet {
				fmt.Fprintf(a.out, "Validating configuration: %s\n", path)
			}
			cfg, res, err := a.loadConfig(path)
			if err != nil {
				return err
			}

			var columns []string
			if checkSource && cfg.Mode == export.ModeRowDriven {
				columns, err = a.readColumns(cmd.Context(), cfg.Source)
				if err != nil {
					return exitWith(cli.ExitValidationError, fmt.Errorf("reading source columns: %w", err))
				}
			}

			problems := config.CheckConfig(cfg, columns)
			if config.HasErrors(problems) {
				cli.PrintProblems(a.errOut, problems)
				return exitWith(cli.ExitValidationError, nil)
			}
			if len(problems) > 0 && !a.quiet {
				cli.PrintProblems(a.errOut, problems)
			}

			if !a.quiet {
				fmt.Fprintln(a.out, cli.SuccessStyle.Render(fmt.Sprintf("✓ Configuration is valid (format: %s)", res.Format)))
				if a.verbose {
					fmt.Fprintf(a.out, "  Export: %s\n", cfg.Name)
					fmt.Fprintf(a.out, "  Workbook: %s\n", cfg.Workbook)
					fmt.Fprintf(a.out, "  Mode: %s\n", cfg.Mode)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkSource, "check-source", false, "Check referenced columns against the row source")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <config-file>",
		Short: "Run an export from a configuration file",
		Long: `Run the export defined in the configuration file.

The configuration is validated first; nothing is exported when it is invalid.
Interrupting the command (Ctrl+C) lets the job in flight finish, then stops.
The outcome is stored in the run history (see "viewexport history").

Exit codes:
  0   - Every job exported
  1   - Validation errors
  2   - Parse errors
  3   - Run aborted (sign-in, workbook lookup or source failure)
  4   - Run completed with failed jobs
  130 - Run cancelled

Examples:
  viewexport run export.yaml
  viewexport run --verbose --log-file export.log export.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.loadConfig(args[0])
			if err != nil {
				return err
			}
			problems := config.CheckConfig(cfg, nil)
			if config.HasErrors(problems) {
				cli.PrintProblems(a.errOut, problems)
				return exitWith(cli.ExitValidationError, nil)
			}
			for _, p := range problems {
				logger.Warn("configuration warning", slog.String("field", p.Field), slog.String("message", p.Message))
			}

			source, err := factory.NewRunSource(cfg)
			if err != nil {
				return exitWith(cli.ExitRuntimeError, fmt.Errorf("opening row source: %w", err))
			}

			var bar cli.ProgressBar
			if !a.quiet && !a.verbose {
				bar = a.progress(a.errOut)
			}
			sink := cli.NewProgressSink(bar)

			runner := runtime.NewRunner(*cfg, runtime.Options{
				Client:  a.clients(cfg.Server),
				Source:  source,
				Sink:    sink,
				Sleep:   a.sleep,
				History: a.history(),
			})
			report := a.wait(cmd.Context(), runner.Start(cmd.Context()))
			_ = sink.Close()

			cli.PrintRunRecord(a.out, persistence.NewRunRecord(report), a.outputOptions())
			if code := cli.ExitCode(report.State); code != cli.ExitSuccess {
				return exitWith(code, nil)
			}
			return nil
		},
	}
}

// wait blocks until the run ends. The first interrupt cancels the run.
func (a *app) wait(ctx context.Context, h *runtime.Handle) *export.RunReport {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-h.Done():
	case <-sigCtx.Done():
		fmt.Fprintln(a.errOut, cli.WarnStyle.Render("Cancelling: the current job finishes first..."))
		h.Cancel()
	}
	return h.Wait()
}

func newViewsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "views <config-file>",
		Short: "List the views of the configured workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.loadConfig(args[0])
			if err != nil {
				return err
			}
			views, err := reporting.ListViews(cmd.Context(), a.clients(cfg.Server), reporting.CredentialsFromConfig(cfg.Server), cfg.Workbook)
			if err != nil {
				return exitWith(cli.ExitRuntimeError, err)
			}
			cli.PrintList(a.out, "Views of "+cfg.Workbook, views)
			return nil
		},
	}
}

func newColumnsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "columns <config-file>",
		Short: "List the columns of the configured row source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.loadConfig(args[0])
			if err != nil {
				return err
			}
			if cfg.Source.Type == "" {
				return exitWith(cli.ExitValidationError, errors.New("the configuration has no source"))
			}
			columns, err := a.readColumns(cmd.Context(), cfg.Source)
			if err != nil {
				return exitWith(cli.ExitRuntimeError, err)
			}
			cli.PrintList(a.out, "Columns", columns)
			return nil
		},
	}
}

func (a *app) readColumns(ctx context.Context, cfg export.SourceConfig) ([]string, error) {
	source, err := factory.NewSource(cfg)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	ctx, cancel := context.WithTimeout(ctx, sourceTimeout)
	defer cancel()
	return source.Columns(ctx)
}

func newTestConnectionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection <config-file>",
		Short: "Sign in to the configured server and out again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.loadConfig(args[0])
			if err != nil {
				return err
			}
			if err := reporting.TestConnection(cmd.Context(), a.clients(cfg.Server), reporting.CredentialsFromConfig(cfg.Server)); err != nil {
				return exitWith(cli.ExitRuntimeError, fmt.Errorf("connection failed: %w", err))
			}
			if !a.quiet {
				fmt.Fprintln(a.out, cli.SuccessStyle.Render("✓ Connected to "+cfg.Server.URL))
			}
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <config-name>",
		Short: "Show the last run of a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			rec, err := a.history().Load(args[0])
			if err != nil {
				return exitWith(cli.ExitRuntimeError, err)
			}
			if rec == nil {
				fmt.Fprintf(a.out, "No recorded run for %q\n", args[0])
				return nil
			}
			cli.PrintRunRecord(a.out, rec, a.outputOptions())
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var addr, outputRoot, dataRoot string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP job API",
		Long: `Serve the HTTP job API.

Endpoints:
  POST   /api/exports          start an export from a JSON configuration
  GET    /api/exports          list tasks
  GET    /api/exports/{id}     task status, progress and log
  DELETE /api/exports/{id}     cancel a task
  POST   /api/connection/test  sign in and out
  POST   /api/views            list the views of a workbook
  POST   /api/columns          list the columns of a source
  GET    /healthz              liveness

Submitted output directories and source files are relative paths resolved
under --output-root and --data-root; paths that leave them are rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(server.Options{
				Clients:    a.clients,
				History:    a.history(),
				Sleep:      a.sleep,
				OutputRoot: outputRoot,
				DataRoot:   dataRoot,
			})
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				return exitWith(cli.ExitRuntimeError, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&outputRoot, "output-root", server.DefaultOutputRoot, "Directory holding every export of the API")
	cmd.Flags().StringVar(&dataRoot, "data-root", ".", "Directory holding the file sources the API may read")
	return cmd
}
