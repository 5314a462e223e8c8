package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/specterhq/specter/internal/engine"
	"github.com/specterhq/specter/internal/falsify"
	"github.com/specterhq/specter/internal/spec"
	"github.com/specterhq/specter/internal/store"
	"github.com/specterhq/specter/internal/validate"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Token    string
	Machine  string
}

// TraceStep is one transition in a stored run's timeline.
type TraceStep struct {
	Seq        int64          `json:"seq"`
	Transition string         `json:"transition"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Duration   string         `json:"duration"`
	Memory     int64          `json:"memory_delta,omitempty"`
	Vars       map[string]any `json:"vars,omitempty"`
}

// RunTrace is the full detail of one stored run.
type RunTrace struct {
	Token    string      `json:"token"`
	Machine  string      `json:"machine"`
	Status   string      `json:"status"`
	Final    string      `json:"final"`
	Path     []string    `json:"path"`
	Failure  string      `json:"failure,omitempty"`
	Duration string      `json:"duration"`
	Timeline []TraceStep `json:"timeline"`
}

// RunListing is one row when listing stored runs.
type RunListing struct {
	Token       string `json:"token"`
	Machine     string `json:"machine"`
	Status      string `json:"status"`
	Final       string `json:"final"`
	Failure     string `json:"failure,omitempty"`
	Transitions int    `json:"transitions"`
	StartedAt   string `json:"started_at"`
}

// MachineSummary aggregates everything stored about one machine.
type MachineSummary struct {
	Machine string            `json:"machine"`
	Runs    []RunListing      `json:"runs"`
	Defects []validate.Defect `json:"defects,omitempty"`
	Matrix  *FalsifyReport    `json:"matrix,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect stored verification results",
		Long: `Inspect runs, defect reports, and falsification matrices stored in
a SQLite database.

With --token, shows the full timeline of one run. With --machine,
shows everything stored for that machine: its runs, its last defect
report, and its last falsification matrix. With neither, lists all
stored runs.

Examples:
  specter trace --db ./specter.db
  specter trace --db ./specter.db --token 0190f0a2-...
  specter trace --db ./specter.db --machine pipeline --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Token, "token", "", "run token to trace")
	cmd.Flags().StringVar(&opts.Machine, "machine", "", "machine to summarize")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	switch {
	case opts.Token != "":
		return traceRun(ctx, st, opts, cmd)
	case opts.Machine != "":
		return traceMachine(ctx, st, opts, cmd)
	default:
		return traceList(ctx, st, opts, cmd)
	}
}

func traceRun(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	run, err := st.ReadRun(ctx, opts.Token)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitCommandError, fmt.Sprintf("no run stored with token %s", opts.Token))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	trace := buildRunTrace(run)
	if opts.Format == "json" {
		return encodeOK(cmd.OutOrStdout(), trace)
	}
	outputRunTraceText(cmd.OutOrStdout(), trace, opts.Verbose)
	return nil
}

func traceMachine(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	summary := MachineSummary{Machine: opts.Machine}

	runs, err := st.ListRuns(ctx, opts.Machine)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	for _, r := range runs {
		summary.Runs = append(summary.Runs, buildRunListing(r))
	}

	if summary.Defects, err = st.ReadDefects(ctx, opts.Machine); err != nil {
		return WrapExitError(ExitCommandError, "failed to read defects", err)
	}

	matrix, err := st.ReadMatrix(ctx, opts.Machine)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read matrix", err)
	}
	if len(matrix.Entries) > 0 {
		report := buildFalsifyReport(opts.Machine, matrix)
		summary.Matrix = &report
	}

	if opts.Format == "json" {
		return encodeOK(cmd.OutOrStdout(), summary)
	}
	outputMachineSummaryText(cmd.OutOrStdout(), summary)
	return nil
}

func traceList(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	runs, err := st.ListRuns(ctx, "")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	listings := make([]RunListing, 0, len(runs))
	for _, r := range runs {
		listings = append(listings, buildRunListing(r))
	}

	if opts.Format == "json" {
		return encodeOK(cmd.OutOrStdout(), listings)
	}

	w := cmd.OutOrStdout()
	if len(listings) == 0 {
		fmt.Fprintln(w, "No runs stored.")
		return nil
	}
	for _, l := range listings {
		outputRunListingLine(w, l)
	}
	return nil
}

func buildRunTrace(run *engine.Run) RunTrace {
	trace := RunTrace{
		Token:    run.Token,
		Machine:  run.MachineID,
		Status:   string(run.Status),
		Final:    run.Current,
		Path:     run.Path,
		Failure:  string(run.FailureCode()),
		Duration: run.FinishedAt.Sub(run.StartedAt).String(),
	}
	for _, rec := range run.Records {
		trace.Timeline = append(trace.Timeline, TraceStep{
			Seq:        rec.Seq,
			Transition: rec.TransitionID,
			Source:     rec.Source,
			Target:     rec.Target,
			Duration:   rec.Duration.String(),
			Memory:     rec.MemoryDelta,
			Vars:       envToMap(rec.Vars),
		})
	}
	return trace
}

func buildRunListing(r store.RunSummary) RunListing {
	return RunListing{
		Token:       r.Token,
		Machine:     r.MachineID,
		Status:      string(r.Status),
		Final:       r.FinalState,
		Failure:     string(r.FailureCode),
		Transitions: r.Transitions,
		StartedAt:   r.StartedAt.UTC().Format(time.RFC3339),
	}
}

func envToMap(env spec.Env) map[string]any {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]any, len(env))
	for k, v := range env {
		// String/Int/Float/Bool marshal by underlying kind.
		out[k] = v
	}
	return out
}

func encodeOK(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(CLIResponse{Status: "ok", Data: data})
}

func outputRunTraceText(w io.Writer, trace RunTrace, verbose bool) {
	fmt.Fprintf(w, "Run: %s\n", trace.Token)
	fmt.Fprintf(w, "Machine: %s\n", trace.Machine)
	fmt.Fprintf(w, "Status: %s", trace.Status)
	if trace.Failure != "" {
		fmt.Fprintf(w, " (%s)", trace.Failure)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Path: %s\n", strings.Join(trace.Path, " -> "))
	fmt.Fprintf(w, "Duration: %s\n", trace.Duration)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(trace.Timeline) == 0 {
		fmt.Fprintln(w, "  (no transitions)")
		return
	}
	for _, step := range trace.Timeline {
		fmt.Fprintf(w, "  [%d] %s: %s -> %s (%s)\n",
			step.Seq, step.Transition, step.Source, step.Target, step.Duration)
		if verbose && len(step.Vars) > 0 {
			fmt.Fprintf(w, "      Vars: %s\n", formatVars(step.Vars))
		}
	}
}

func outputMachineSummaryText(w io.Writer, summary MachineSummary) {
	fmt.Fprintf(w, "Machine: %s\n", summary.Machine)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Runs ===")
	if len(summary.Runs) == 0 {
		fmt.Fprintln(w, "  (no runs)")
	}
	for _, l := range summary.Runs {
		fmt.Fprint(w, "  ")
		outputRunListingLine(w, l)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Defects ===")
	if len(summary.Defects) == 0 {
		fmt.Fprintln(w, "  (none stored)")
	}
	for _, d := range summary.Defects {
		fmt.Fprintf(w, "  %s: %s\n", d.Kind, d.Message)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Falsification ===")
	if summary.Matrix == nil {
		fmt.Fprintln(w, "  (no matrix stored)")
		return
	}
	fmt.Fprintf(w, "  %d caught, %d missed, %d total\n",
		summary.Matrix.Caught, summary.Matrix.Missed, len(summary.Matrix.Entries))
	for _, e := range missedEntries(summary.Matrix.Entries) {
		fmt.Fprintf(w, "  ✗ %s expected %s, got %s\n", e.Name, e.Expected, e.Actual)
	}
}

func missedEntries(entries []falsify.EntryResult) []falsify.EntryResult {
	var out []falsify.EntryResult
	for _, e := range entries {
		if !e.Caught {
			out = append(out, e)
		}
	}
	return out
}

func outputRunListingLine(w io.Writer, l RunListing) {
	status := l.Status
	if l.Failure != "" {
		status += " (" + l.Failure + ")"
	}
	fmt.Fprintf(w, "%s  %s  %s  %s  %d step(s)  %s\n",
		l.Token, l.Machine, status, l.Final, l.Transitions, l.StartedAt)
}

// formatVars renders a variable map with sorted keys for stable output.
func formatVars(vars map[string]any) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, vars[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
