// Package main provides the CLI entry point of the view exporter.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/canectors/viewexport/internal/cli"
	"github.com/canectors/viewexport/internal/errhandling"
	"github.com/canectors/viewexport/internal/factory"
	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/internal/persistence"
)

var (
	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultEnvFile is loaded when present; a missing file is not an error.
const defaultEnvFile = ".env"

// exitError carries a process exit code. A nil err means the failure was
// already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// app holds the global flags and the collaborators commands share.
type app struct {
	verbose   bool
	quiet     bool
	logFormat string
	logFile   string
	stateDir  string
	envFile   string

	out    io.Writer
	errOut io.Writer

	clients  factory.ClientFactory
	sleep    errhandling.Sleeper
	progress func(w io.Writer) cli.ProgressBar
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:     out,
		errOut:  errOut,
		clients: factory.NewReportingClient,
		progress: func(w io.Writer) cli.ProgressBar {
			if !cli.IsTerminal(w) {
				return nil
			}
			return cli.NewProgressBar(w)
		},
	}
}

func main() {
	os.Exit(execute(newApp(os.Stdout, os.Stderr), os.Args[1:]))
}

// execute runs the command line and returns the exit code.
func execute(a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	err := root.Execute()
	logger.CloseLogFile()
	if err == nil {
		return cli.ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(a.errOut, cli.ErrorStyle.Render("✗ "+ee.err.Error()))
		}
		return ee.code
	}
	fmt.Fprintln(a.errOut, cli.ErrorStyle.Render("✗ "+err.Error()))
	return cli.ExitRuntimeError
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "viewexport",
		Short: "viewexport - Batch export of reporting workbook views",
		Long: `viewexport renders the views of a reporting workbook to PDF or PNG files.

A configuration file (JSON or YAML) names the server, the workbook and the
export mode. In row-driven mode every row of a tabular source drives one
batch of exports whose parameters, output folders and file names come from
the row. In fixed-list mode every view of the workbook is exported once.

Examples:
  # Validate a configuration file
  viewexport validate export.yaml

  # Run an export
  viewexport run export.yaml

  # Serve the HTTP job API
  viewexport serve --addr :8080`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Suppress non-error output")
	flags.StringVar(&a.logFormat, "log-format", "human", "Console log format: human or json")
	flags.StringVar(&a.logFile, "log-file", "", "Also write JSON logs to this file")
	flags.StringVar(&a.stateDir, "state-dir", persistence.DefaultStatePath, "Directory of the run history")
	flags.StringVar(&a.envFile, "env-file", defaultEnvFile, "Environment file holding token secrets")

	root.AddCommand(
		newValidateCmd(a),
		newRunCmd(a),
		newViewsCmd(a),
		newColumnsCmd(a),
		newTestConnectionCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads the environment file and configures logging.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	if err := godotenv.Load(a.envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || a.envFile != defaultEnvFile {
			return exitWith(cli.ExitRuntimeError, fmt.Errorf("loading %s: %w", a.envFile, err))
		}
	}

	format, ok := logger.ParseFormat(a.logFormat)
	if !ok {
		return exitWith(cli.ExitRuntimeError, fmt.Errorf("unknown log format %q", a.logFormat))
	}
	level := slog.LevelInfo
	switch {
	case a.verbose:
		level = slog.LevelDebug
	case a.quiet:
		level = slog.LevelError
	}

	logger.SetOutput(a.errOut)
	if a.logFile != "" {
		if err := logger.SetLogFile(a.logFile, level, format); err != nil {
			return exitWith(cli.ExitRuntimeError, err)
		}
		return nil
	}
	logger.SetLevelAndFormat(level, format)
	return nil
}

func (a *app) outputOptions() cli.OutputOptions {
	return cli.OutputOptions{Verbose: a.verbose, Quiet: a.quiet}
}

func (a *app) history() *persistence.HistoryStore {
	return persistence.NewHistoryStore(a.stateDir)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintf(a.out, "Version: %s\n", version)
			fmt.Fprintf(a.out, "Commit: %s\n", commit)
			fmt.Fprintf(a.out, "Build Date: %s\n", buildDate)
			return nil
		},
	}
}
