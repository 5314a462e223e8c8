package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/specterhq/specter/internal/compile"
	"github.com/specterhq/specter/internal/store"
	"github.com/specterhq/specter/internal/validate"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Database string
}

// MachineReport is the per-machine validation outcome.
type MachineReport struct {
	ID      string            `json:"id"`
	Defects []validate.Defect `json:"defects,omitempty"`
}

// ValidationResult holds the full validation outcome.
type ValidationResult struct {
	Valid    bool            `json:"valid"`
	Machines []MachineReport `json:"machines,omitempty"`
	Errors   []string        `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <machines-path>",
		Short: "Statically validate machine definitions",
		Long: `Compile machine definitions from a CUE file or directory and check
them for structural defects: unreachable states, dangling references,
non-deterministic transitions, transitions out of terminal states,
duplicate identifiers, and invalid initial states.

Exit codes:
  0 - all machines valid
  1 - definition errors or defects found
  2 - command error (path not found, no CUE files)

Examples:
  specter validate ./machines
  specter validate ./machines/pipeline.cue --format json
  specter validate ./machines --db ./specter.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "persist defect reports to this SQLite database")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := loadDefinitions(path, compile.LoadModeCollectAll)
	if loadResult == nil {
		code, message := describeLoadError(loadErrors)
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}

	formatter.VerboseLog("compiled %d file(s), %d machine(s)", loadResult.FileCount, len(loadResult.Machines))

	result := ValidationResult{Valid: true}
	for _, err := range loadErrors {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}

	var persist *store.Store
	if opts.Database != "" {
		var err error
		persist, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer persist.Close()
	}

	for _, m := range loadResult.Machines {
		defects := validate.Machine(m)
		result.Machines = append(result.Machines, MachineReport{ID: m.ID(), Defects: defects})
		if len(defects) > 0 {
			result.Valid = false
		}
		if persist != nil {
			if err := persist.WriteDefects(context.Background(), m.ID(), defects); err != nil {
				return WrapExitError(ExitCommandError, "failed to persist defects", err)
			}
		}
	}

	return outputValidation(formatter, result)
}

// loadDefinitions compiles a CUE file or directory of CUE files.
func loadDefinitions(path string, mode compile.LoadMode) (*compile.LoadResult, []error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, []error{&compile.LoadError{Code: compile.ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}}
	}
	if info.IsDir() {
		return compile.LoadDir(path, mode)
	}
	return compile.LoadFile(path, mode)
}

func describeLoadError(errs []error) (code, message string) {
	if len(errs) == 0 {
		return compile.ErrCodeGeneric, "load failed"
	}
	var loadErr *compile.LoadError
	if errors.As(errs[0], &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return compile.ErrCodeGeneric, errs[0].Error()
}

func outputValidation(f *OutputFormatter, result ValidationResult) error {
	if result.Valid {
		if f.Format == "json" {
			if err := f.Success(result); err != nil {
				return err
			}
		} else {
			for _, m := range result.Machines {
				fmt.Fprintf(f.Writer, "✓ %s\n", m.ID)
			}
			fmt.Fprintln(f.Writer, "All machines valid")
		}
		return nil
	}

	total := len(result.Errors)
	for _, m := range result.Machines {
		total += len(m.Defects)
	}

	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{Status: "error", Data: result}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d finding(s)", total))
	}

	fmt.Fprintln(f.Writer, "✗ Validation failed")
	fmt.Fprintln(f.Writer)
	for _, msg := range result.Errors {
		fmt.Fprintf(f.Writer, "  %s\n", msg)
	}
	for _, m := range result.Machines {
		if len(m.Defects) == 0 {
			fmt.Fprintf(f.Writer, "  ✓ %s\n", m.ID)
			continue
		}
		fmt.Fprintf(f.Writer, "  ✗ %s\n", m.ID)
		for _, d := range m.Defects {
			fmt.Fprintf(f.Writer, "    %s: %s\n", d.Kind, d.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d finding(s)", total))
}
