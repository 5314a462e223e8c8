package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/specterhq/specter/internal/engine"
	"github.com/specterhq/specter/internal/falsify"
	"github.com/specterhq/specter/internal/scenario"
	"github.com/specterhq/specter/internal/spec"
	"github.com/specterhq/specter/internal/store"
	"github.com/specterhq/specter/internal/validate"
)

// FalsifyOptions holds flags for the falsify command.
type FalsifyOptions struct {
	*RootOptions
	Database     string
	Workers      int
	EntryTimeout time.Duration
}

// FalsifyReport is the JSON payload for a falsification matrix.
type FalsifyReport struct {
	Machine   string                `json:"machine"`
	AllCaught bool                  `json:"all_caught"`
	Caught    int                   `json:"caught"`
	Missed    int                   `json:"missed"`
	Entries   []falsify.EntryResult `json:"entries"`
}

// NewFalsifyCommand creates the falsify command.
func NewFalsifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FalsifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "falsify <scenario-file>",
		Short: "Check that the verifier catches injected model defects",
		Long: `Mutate the scenario's machine one defect at a time and re-verify
each mutant with the scenario's script. Every mutation must be caught
at its expected stage (validator, runtime, or complexity); a mutant
that survives means a verification gap.

Mutations that need measured complexity samples are skipped here;
they are exercised by the library's own falsification tests.

Exit codes:
  0 - every mutation caught
  1 - surviving mutant, wrong failure signature, or baseline defects
  2 - command error (bad scenario, store error)

Examples:
  specter falsify ./scenarios/pipeline-completes.yaml
  specter falsify ./scenarios/pipeline-completes.yaml --db ./specter.db
  specter falsify ./scenarios/pipeline-completes.yaml --workers 8 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFalsify(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "persist the matrix to this SQLite database")
	cmd.Flags().IntVar(&opts.Workers, "workers", falsify.DefaultWorkers, "concurrent mutant executions")
	cmd.Flags().DurationVar(&opts.EntryTimeout, "entry-timeout", falsify.DefaultEntryTimeout, "per-mutant execution timeout")

	return cmd
}

func runFalsify(opts *FalsifyOptions, path string, cmd *cobra.Command) error {
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
	m, err := s.LoadMachine()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load machine", err)
	}

	if defects := validate.Machine(m); len(defects) > 0 {
		_ = formatter.Error("E001", fmt.Sprintf("baseline machine %s has %d defect(s); fix them before falsifying", m.ID(), len(defects)), defects)
		return NewExitError(ExitFailure, "baseline machine failed validation")
	}

	vars, err := spec.ToEnv(s.Vars)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid scenario vars", err)
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	harness := &falsify.Harness{
		Machine: m,
		NewDriver: func(mutant *spec.Machine) engine.Driver {
			driver, err := s.NewDriver()
			if err != nil {
				// Script conversion was validated at load time.
				return engine.NewScriptDriver()
			}
			return driver
		},
		Vars:         vars,
		Workers:      opts.Workers,
		EntryTimeout: opts.EntryTimeout,
		Logger:       slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})),
	}

	// No measured samples in CLI mode, so complexity-stage mutations
	// cannot be detected and are excluded from the catalog.
	var catalog []falsify.Entry
	for _, entry := range falsify.DefaultCatalog(m) {
		if entry.Expect.Stage == falsify.StageComplexity {
			formatter.VerboseLog("skipping %s: needs complexity samples", entry.Name)
			continue
		}
		catalog = append(catalog, entry)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	matrix, err := harness.Run(ctx, catalog)
	if err != nil {
		return WrapExitError(ExitCommandError, "falsification failed", err)
	}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		if err := st.WriteMatrix(ctx, m.ID(), matrix); err != nil {
			return WrapExitError(ExitCommandError, "failed to persist matrix", err)
		}
		formatter.VerboseLog("matrix for %s persisted to %s", m.ID(), opts.Database)
	}

	return outputMatrix(formatter, buildFalsifyReport(m.ID(), matrix))
}

func buildFalsifyReport(machineID string, matrix falsify.Matrix) FalsifyReport {
	report := FalsifyReport{
		Machine:   machineID,
		AllCaught: matrix.AllCaught(),
		Entries:   matrix.Entries,
	}
	for _, e := range matrix.Entries {
		if e.Caught {
			report.Caught++
		} else {
			report.Missed++
		}
	}
	return report
}

func outputMatrix(f *OutputFormatter, report FalsifyReport) error {
	if f.Format == "json" {
		status := "ok"
		if !report.AllCaught {
			status = "error"
		}
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{Status: status, Data: report}); err != nil {
			return err
		}
	} else {
		for _, e := range report.Entries {
			if e.Caught {
				fmt.Fprintf(f.Writer, "✓ %s caught at %s\n", e.Name, e.Actual)
			} else {
				fmt.Fprintf(f.Writer, "✗ %s expected %s, got %s\n", e.Name, e.Expected, e.Actual)
				if e.Detail != "" {
					fmt.Fprintf(f.Writer, "  %s\n", e.Detail)
				}
			}
		}
		fmt.Fprintln(f.Writer)
		fmt.Fprintf(f.Writer, "%d caught, %d missed, %d total\n", report.Caught, report.Missed, len(report.Entries))
	}

	if !report.AllCaught {
		return NewExitError(ExitFailure, fmt.Sprintf("%d mutation(s) went undetected", report.Missed))
	}
	return nil
}
