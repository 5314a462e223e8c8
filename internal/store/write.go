package store

import (
	"context"
	"fmt"

	"github.com/specterhq/specter/internal/engine"
	"github.com/specterhq/specter/internal/falsify"
	"github.com/specterhq/specter/internal/spec"
	"github.com/specterhq/specter/internal/validate"
)

// WriteRun inserts a finished run and its transition log atomically.
// Uses ON CONFLICT(token) DO NOTHING for idempotency: a run token is
// written once and never amended.
func (s *Store) WriteRun(ctx context.Context, run *engine.Run) error {
	pathJSON, err := marshalPath(run.Path)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	varsJSON, err := marshalEnv(run.Vars)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	var failureCode, failureMessage string
	if run.Failure != nil {
		failureCode = string(run.Failure.Code)
		failureMessage = run.Failure.Message
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(token, machine_id, status, final_state, path, vars, failure_code, failure_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`,
		run.Token,
		run.MachineID,
		string(run.Status),
		run.Current,
		pathJSON,
		varsJSON,
		failureCode,
		failureMessage,
		run.StartedAt.UnixNano(),
		run.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// Token already stored; the transition log is already there too.
		return tx.Commit()
	}

	for _, rec := range run.Records {
		recVars, err := marshalEnv(rec.Vars)
		if err != nil {
			return fmt.Errorf("write run: record %d: %w", rec.Seq, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_transitions
			(run_token, seq, transition_id, source, target, start_ns, end_ns, duration_ns, memory_delta, vars)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.Token,
			rec.Seq,
			rec.TransitionID,
			rec.Source,
			rec.Target,
			rec.Start.UnixNano(),
			rec.End.UnixNano(),
			int64(rec.Duration),
			rec.MemoryDelta,
			recVars,
		)
		if err != nil {
			return fmt.Errorf("write run: record %d: %w", rec.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

// WriteDefects replaces the stored defect report for a machine.
func (s *Store) WriteDefects(ctx context.Context, machineID string, defects []validate.Defect) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write defects: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM defects WHERE machine_id = ?`, machineID); err != nil {
		return fmt.Errorf("write defects: %w", err)
	}
	for i, d := range defects {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO defects (machine_id, position, kind, ref, message)
			VALUES (?, ?, ?, ?, ?)
		`, machineID, i, string(d.Kind), d.Ref, d.Message)
		if err != nil {
			return fmt.Errorf("write defects: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write defects: commit: %w", err)
	}
	return nil
}

// WriteMatrix replaces the stored falsification matrix for a machine.
func (s *Store) WriteMatrix(ctx context.Context, machineID string, matrix falsify.Matrix) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write matrix: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM falsification_entries WHERE machine_id = ?`, machineID); err != nil {
		return fmt.Errorf("write matrix: %w", err)
	}
	for i, e := range matrix.Entries {
		mutJSON, err := marshalMutation(e.Mutation)
		if err != nil {
			return fmt.Errorf("write matrix: entry %s: %w", e.Name, err)
		}
		caught := 0
		if e.Caught {
			caught = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO falsification_entries
			(machine_id, position, name, mutation, expected_stage, expected_kind, actual_stage, actual_kind, caught, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			machineID, i, e.Name, mutJSON,
			string(e.Expected.Stage), e.Expected.Kind,
			string(e.Actual.Stage), e.Actual.Kind,
			caught, e.Detail,
		)
		if err != nil {
			return fmt.Errorf("write matrix: entry %s: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write matrix: commit: %w", err)
	}
	return nil
}

// marshalMutation serializes a mutation descriptor to canonical JSON,
// omitting unset parameters.
func marshalMutation(m spec.Mutation) (string, error) {
	obj := map[string]any{"kind": string(m.Kind)}
	if m.StateID != "" {
		obj["state_id"] = m.StateID
	}
	if m.TransitionID != "" {
		obj["transition_id"] = m.TransitionID
	}
	if m.Source != "" {
		obj["source"] = m.Source
	}
	if m.Target != "" {
		obj["target"] = m.Target
	}
	b, err := spec.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal mutation: %w", err)
	}
	return string(b), nil
}
