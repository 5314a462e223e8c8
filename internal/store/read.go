package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/specterhq/specter/internal/engine"
	"github.com/specterhq/specter/internal/falsify"
	"github.com/specterhq/specter/internal/spec"
	"github.com/specterhq/specter/internal/validate"
)

// ErrNotFound reports a lookup for a token or machine with no stored
// data.
var ErrNotFound = errors.New("not found")

// RunSummary is one row of a run listing.
type RunSummary struct {
	Token       string
	MachineID   string
	Status      engine.RunStatus
	FinalState  string
	FailureCode engine.FailureCode
	StartedAt   time.Time
	FinishedAt  time.Time
	Transitions int
}

// ReadRun retrieves a stored run with its full transition log.
func (s *Store) ReadRun(ctx context.Context, token string) (*engine.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, machine_id, status, final_state, path, vars, failure_code, failure_message, started_at, finished_at
		FROM runs WHERE token = ?
	`, token)

	var (
		run                         engine.Run
		status                      string
		pathJSON, varsJSON          string
		failureCode, failureMessage string
		startedNanos, finishedNanos int64
	)
	err := row.Scan(&run.Token, &run.MachineID, &status, &run.Current,
		&pathJSON, &varsJSON, &failureCode, &failureMessage,
		&startedNanos, &finishedNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read run %s: %w", token, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", token, err)
	}

	run.Status = engine.RunStatus(status)
	run.StartedAt = time.Unix(0, startedNanos)
	run.FinishedAt = time.Unix(0, finishedNanos)
	if run.Path, err = unmarshalPath(pathJSON); err != nil {
		return nil, fmt.Errorf("read run %s: %w", token, err)
	}
	if run.Vars, err = unmarshalEnv(varsJSON); err != nil {
		return nil, fmt.Errorf("read run %s: %w", token, err)
	}
	if failureCode != "" {
		run.Failure = &engine.RuntimeError{
			Code:    engine.FailureCode(failureCode),
			Message: failureMessage,
		}
	}

	if run.Records, err = s.readTransitions(ctx, token); err != nil {
		return nil, fmt.Errorf("read run %s: %w", token, err)
	}
	return &run, nil
}

func (s *Store) readTransitions(ctx context.Context, token string) ([]engine.TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, transition_id, source, target, start_ns, end_ns, duration_ns, memory_delta, vars
		FROM run_transitions WHERE run_token = ? ORDER BY seq
	`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []engine.TransitionRecord
	for rows.Next() {
		var (
			rec                        engine.TransitionRecord
			startNs, endNs, durationNs int64
			varsJSON                   string
		)
		if err := rows.Scan(&rec.Seq, &rec.TransitionID, &rec.Source, &rec.Target,
			&startNs, &endNs, &durationNs, &rec.MemoryDelta, &varsJSON); err != nil {
			return nil, err
		}
		rec.Start = time.Unix(0, startNs)
		rec.End = time.Unix(0, endNs)
		rec.Duration = time.Duration(durationNs)
		if rec.Vars, err = unmarshalEnv(varsJSON); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListRuns returns run summaries, newest first. An empty machineID
// lists every machine.
func (s *Store) ListRuns(ctx context.Context, machineID string) ([]RunSummary, error) {
	query := `
		SELECT r.token, r.machine_id, r.status, r.final_state, r.failure_code, r.started_at, r.finished_at,
		       (SELECT COUNT(*) FROM run_transitions t WHERE t.run_token = r.token)
		FROM runs r
	`
	var args []any
	if machineID != "" {
		query += ` WHERE r.machine_id = ?`
		args = append(args, machineID)
	}
	query += ` ORDER BY r.started_at DESC, r.token`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			sum                         RunSummary
			status, failureCode         string
			startedNanos, finishedNanos int64
		)
		if err := rows.Scan(&sum.Token, &sum.MachineID, &status, &sum.FinalState,
			&failureCode, &startedNanos, &finishedNanos, &sum.Transitions); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		sum.Status = engine.RunStatus(status)
		sum.FailureCode = engine.FailureCode(failureCode)
		sum.StartedAt = time.Unix(0, startedNanos)
		sum.FinishedAt = time.Unix(0, finishedNanos)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ReadDefects retrieves the stored defect report for a machine, in
// validator order. No stored report reads as an empty list.
func (s *Store) ReadDefects(ctx context.Context, machineID string) ([]validate.Defect, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, ref, message FROM defects
		WHERE machine_id = ? ORDER BY position
	`, machineID)
	if err != nil {
		return nil, fmt.Errorf("read defects: %w", err)
	}
	defer rows.Close()

	var out []validate.Defect
	for rows.Next() {
		var d validate.Defect
		var kind string
		if err := rows.Scan(&kind, &d.Ref, &d.Message); err != nil {
			return nil, fmt.Errorf("read defects: %w", err)
		}
		d.Kind = validate.DefectKind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ReadMatrix retrieves the stored falsification matrix for a machine,
// in catalog order.
func (s *Store) ReadMatrix(ctx context.Context, machineID string) (falsify.Matrix, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, mutation, expected_stage, expected_kind, actual_stage, actual_kind, caught, detail
		FROM falsification_entries
		WHERE machine_id = ? ORDER BY position
	`, machineID)
	if err != nil {
		return falsify.Matrix{}, fmt.Errorf("read matrix: %w", err)
	}
	defer rows.Close()

	var matrix falsify.Matrix
	for rows.Next() {
		var (
			e                          falsify.EntryResult
			mutJSON                    string
			expectedStage, actualStage string
			caught                     int
		)
		if err := rows.Scan(&e.Name, &mutJSON, &expectedStage, &e.Expected.Kind,
			&actualStage, &e.Actual.Kind, &caught, &e.Detail); err != nil {
			return falsify.Matrix{}, fmt.Errorf("read matrix: %w", err)
		}
		e.Expected.Stage = falsify.Stage(expectedStage)
		e.Actual.Stage = falsify.Stage(actualStage)
		e.Caught = caught != 0
		if e.Mutation, err = unmarshalMutation(mutJSON); err != nil {
			return falsify.Matrix{}, fmt.Errorf("read matrix: entry %s: %w", e.Name, err)
		}
		matrix.Entries = append(matrix.Entries, e)
	}
	return matrix, rows.Err()
}

func unmarshalMutation(data string) (spec.Mutation, error) {
	var raw struct {
		Kind         string `json:"kind"`
		StateID      string `json:"state_id"`
		TransitionID string `json:"transition_id"`
		Source       string `json:"source"`
		Target       string `json:"target"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return spec.Mutation{}, fmt.Errorf("unmarshal mutation: %w", err)
	}
	return spec.Mutation{
		Kind:         spec.MutationKind(raw.Kind),
		StateID:      raw.StateID,
		TransitionID: raw.TransitionID,
		Source:       raw.Source,
		Target:       raw.Target,
	}, nil
}
