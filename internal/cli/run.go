package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/specterhq/specter/internal/engine"
	"github.com/specterhq/specter/internal/scenario"
	"github.com/specterhq/specter/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Token    string
}

// RunReport is the JSON payload for a single executed run.
type RunReport struct {
	Scenario string   `json:"scenario"`
	Machine  string   `json:"machine"`
	Token    string   `json:"token,omitempty"`
	Status   string   `json:"status,omitempty"`
	Final    string   `json:"final,omitempty"`
	Path     []string `json:"path,omitempty"`
	Failure  string   `json:"failure,omitempty"`
	Defects  []string `json:"defects,omitempty"`
	Steps    int      `json:"steps"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Execute a scripted scenario against its machine",
		Long: `Compile the scenario's machine, validate it, and drive it with the
scenario's scripted transitions. The run log can be persisted to a
SQLite database for later inspection with the trace command.

Exit codes:
  0 - run completed
  1 - validation defects or a failed run
  2 - command error (bad scenario, store error)

Examples:
  specter run ./scenarios/pipeline-completes.yaml
  specter run ./scenarios/pipeline-completes.yaml --db ./specter.db
  specter run ./scenarios/pipeline-completes.yaml --token run-7 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "persist the run to this SQLite database")
	cmd.Flags().StringVar(&opts.Token, "token", "", "run token override (defaults to a fresh UUIDv7)")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := scenario.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	if opts.Token != "" {
		s.RunToken = opts.Token
	} else if s.RunToken == "" {
		s.RunToken = engine.UUIDv7Generator{}.Generate()
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	runner := &scenario.Runner{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := runner.Run(ctx, s)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to execute scenario", err)
	}

	if opts.Database != "" && res.Run != nil {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		if err := st.WriteRun(ctx, res.Run); err != nil {
			return WrapExitError(ExitCommandError, "failed to persist run", err)
		}
		formatter.VerboseLog("run %s persisted to %s", res.Run.Token, opts.Database)
	}

	return outputRun(formatter, buildRunReport(res))
}

func buildRunReport(res *scenario.Result) RunReport {
	report := RunReport{
		Scenario: res.Scenario.Name,
		Machine:  res.Machine.ID(),
	}
	for _, d := range res.Defects {
		report.Defects = append(report.Defects, string(d.Kind))
	}
	if res.Run != nil {
		report.Token = res.Run.Token
		report.Status = string(res.Run.Status)
		report.Final = res.Run.Current
		report.Path = res.Run.Path
		report.Failure = string(res.Run.FailureCode())
		report.Steps = len(res.Run.Records)
	}
	return report
}

func outputRun(f *OutputFormatter, report RunReport) error {
	failed := len(report.Defects) > 0 || report.Status != string(engine.StatusCompleted)

	if f.Format == "json" {
		status := "ok"
		if failed {
			status = "error"
		}
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{Status: status, Data: report}); err != nil {
			return err
		}
	} else {
		if len(report.Defects) > 0 {
			fmt.Fprintf(f.Writer, "✗ %s: machine %s failed validation\n", report.Scenario, report.Machine)
			for _, kind := range report.Defects {
				fmt.Fprintf(f.Writer, "  %s\n", kind)
			}
		} else if failed {
			fmt.Fprintf(f.Writer, "✗ %s: run %s failed at %s (%s)\n",
				report.Scenario, report.Token, report.Final, report.Failure)
		} else {
			fmt.Fprintf(f.Writer, "✓ %s: run %s completed in %d step(s), final state %s\n",
				report.Scenario, report.Token, report.Steps, report.Final)
		}
	}

	if failed {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s did not complete cleanly", report.Scenario))
	}
	return nil
}
