package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specterhq/specter/internal/engine"
	"github.com/specterhq/specter/internal/falsify"
	"github.com/specterhq/specter/internal/spec"
	"github.com/specterhq/specter/internal/validate"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(token string) *engine.Run {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &engine.Run{
		Token:     token,
		MachineID: "pipeline",
		Current:   "completed",
		Path:      []string{"start", "loading", "completed"},
		Records: []engine.TransitionRecord{
			{
				Seq:          1,
				TransitionID: "load",
				Source:       "start",
				Target:       "loading",
				Start:        started,
				End:          started.Add(5 * time.Millisecond),
				Duration:     5 * time.Millisecond,
				MemoryDelta:  4096,
				Vars:         spec.Env{"load_result": spec.Bool(true)},
			},
			{
				Seq:          2,
				TransitionID: "finish",
				Source:       "loading",
				Target:       "completed",
				Start:        started.Add(8 * time.Millisecond),
				End:          started.Add(10 * time.Millisecond),
				Duration:     2 * time.Millisecond,
				Vars:         spec.Env{"load_result": spec.Bool(true), "count": spec.Int(3)},
			},
		},
		Vars:       spec.Env{"load_result": spec.Bool(true), "count": spec.Int(3)},
		Status:     engine.StatusCompleted,
		StartedAt:  started,
		FinishedAt: started.Add(10 * time.Millisecond),
	}
}

func TestOpen_CreatesSchemaOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specter.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	var count int
	err = s.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('runs', 'run_transitions', 'defects', 'falsification_entries')`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestWriteRun_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	original := sampleRun("run-1")
	require.NoError(t, s.WriteRun(ctx, original))

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, original.Token, got.Token)
	assert.Equal(t, original.MachineID, got.MachineID)
	assert.Equal(t, engine.StatusCompleted, got.Status)
	assert.Equal(t, original.Current, got.Current)
	assert.Equal(t, original.Path, got.Path)
	assert.True(t, original.StartedAt.Equal(got.StartedAt))
	assert.True(t, original.FinishedAt.Equal(got.FinishedAt))
	assert.Nil(t, got.Failure)

	require.Len(t, got.Records, 2)
	assert.Equal(t, original.Records[0].TransitionID, got.Records[0].TransitionID)
	assert.Equal(t, original.Records[0].Duration, got.Records[0].Duration)
	assert.Equal(t, original.Records[0].MemoryDelta, got.Records[0].MemoryDelta)
	for i := range got.Records {
		assert.True(t, original.Records[i].Start.Equal(got.Records[i].Start), "record %d start", i)
		assert.True(t, original.Records[i].End.Equal(got.Records[i].End), "record %d end", i)
	}
	assert.True(t, spec.Equal(spec.Bool(true), got.Records[0].Vars["load_result"]))
	assert.True(t, spec.Equal(spec.Int(3), got.Records[1].Vars["count"]))
	assert.True(t, spec.Equal(spec.Int(3), got.Vars["count"]))
}

func TestWriteRun_FailedRunKeepsFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-failed")
	run.Status = engine.StatusFailed
	run.Current = "start"
	run.Path = []string{"start"}
	run.Records = nil
	run.Failure = &engine.RuntimeError{
		Code:    engine.CodeReturnMismatch,
		Message: "transition load: returned false, expected true",
	}
	require.NoError(t, s.WriteRun(ctx, run))

	got, err := s.ReadRun(ctx, "run-failed")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, got.Status)
	require.NotNil(t, got.Failure)
	assert.Equal(t, engine.CodeReturnMismatch, got.Failure.Code)
	assert.Contains(t, got.Failure.Message, "expected true")
	assert.Empty(t, got.Records)
}

func TestWriteRun_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-dup")
	require.NoError(t, s.WriteRun(ctx, run))
	require.NoError(t, s.WriteRun(ctx, run))

	got, err := s.ReadRun(ctx, "run-dup")
	require.NoError(t, err)
	assert.Len(t, got.Records, 2)
}

func TestReadRun_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ReadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns_FiltersByMachine(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := sampleRun("run-a")
	require.NoError(t, s.WriteRun(ctx, first))

	second := sampleRun("run-b")
	second.StartedAt = first.StartedAt.Add(time.Minute)
	second.FinishedAt = second.StartedAt.Add(time.Second)
	require.NoError(t, s.WriteRun(ctx, second))

	other := sampleRun("run-c")
	other.MachineID = "checkout"
	require.NoError(t, s.WriteRun(ctx, other))

	all, err := s.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pipeline, err := s.ListRuns(ctx, "pipeline")
	require.NoError(t, err)
	require.Len(t, pipeline, 2)
	// Newest first.
	assert.Equal(t, "run-b", pipeline[0].Token)
	assert.Equal(t, "run-a", pipeline[1].Token)
	assert.Equal(t, 2, pipeline[0].Transitions)
	assert.Equal(t, engine.StatusCompleted, pipeline[0].Status)
}

func TestWriteDefects_ReplacesReport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []validate.Defect{
		{Kind: validate.DefectDanglingReference, Ref: "go", Message: "transition go targets unknown state missing"},
		{Kind: validate.DefectUnreachableState, Ref: "island", Message: "state island is unreachable from the initial state"},
	}
	require.NoError(t, s.WriteDefects(ctx, "broken", first))

	got, err := s.ReadDefects(ctx, "broken")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, validate.DefectDanglingReference, got[0].Kind)
	assert.Equal(t, "go", got[0].Ref)
	assert.Equal(t, validate.DefectUnreachableState, got[1].Kind)

	require.NoError(t, s.WriteDefects(ctx, "broken", nil))
	got, err = s.ReadDefects(ctx, "broken")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteMatrix_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	matrix := falsify.Matrix{Entries: []falsify.EntryResult{
		{
			Name:     "remove-state",
			Mutation: spec.Mutation{Kind: spec.MutationRemoveState, StateID: "loading"},
			Expected: falsify.Signature{Stage: falsify.StageValidator, Kind: string(validate.DefectDanglingReference)},
			Actual:   falsify.Signature{Stage: falsify.StageValidator, Kind: string(validate.DefectDanglingReference)},
			Caught:   true,
		},
		{
			Name:     "force-forbidden-edge",
			Mutation: spec.Mutation{Kind: spec.MutationForceForbiddenEdge, Source: "ready", Target: "start"},
			Expected: falsify.Signature{Stage: falsify.StageRuntime, Kind: string(engine.CodeForbiddenTransition)},
			Caught:   false,
			Detail:   "run completed; mutation went undetected",
		},
	}}
	require.NoError(t, s.WriteMatrix(ctx, "pipeline", matrix))

	got, err := s.ReadMatrix(ctx, "pipeline")
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, matrix.Entries[0], got.Entries[0])
	assert.Equal(t, matrix.Entries[1], got.Entries[1])
	assert.False(t, got.AllCaught())
	require.Len(t, got.Misses(), 1)
	assert.Equal(t, "force-forbidden-edge", got.Misses()[0].Name)

	// A rewrite replaces the stored matrix wholesale.
	require.NoError(t, s.WriteMatrix(ctx, "pipeline", falsify.Matrix{Entries: matrix.Entries[:1]}))
	got, err = s.ReadMatrix(ctx, "pipeline")
	require.NoError(t, err)
	assert.Len(t, got.Entries, 1)
	assert.True(t, got.AllCaught())
}
