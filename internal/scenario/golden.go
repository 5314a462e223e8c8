package scenario

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/specterhq/specter/internal/spec"
)

// TraceSnapshot is the deterministic view of a finished scenario run.
// Wall-clock fields (timestamps, durations) are excluded; only the
// logical order, the visited states, and the captured variables are
// compared against the golden file.
type TraceSnapshot struct {
	Scenario string
	Machine  string
	Token    string
	Status   string
	Failure  string
	Path     []string
	Records  []RecordSnapshot
	Defects  []string
}

// RecordSnapshot is one committed transition in snapshot form.
type RecordSnapshot struct {
	Seq        int64
	Transition string
	Source     string
	Target     string
	Vars       spec.Env
}

// Snapshot reduces a Result to its deterministic trace.
func Snapshot(res *Result) TraceSnapshot {
	snap := TraceSnapshot{
		Scenario: res.Scenario.Name,
		Machine:  res.Machine.ID(),
		Defects:  kinds(res.Defects),
	}
	if res.Run == nil {
		return snap
	}

	run := res.Run
	snap.Token = run.Token
	snap.Status = string(run.Status)
	snap.Failure = string(run.FailureCode())
	snap.Path = run.Path
	for _, rec := range run.Records {
		snap.Records = append(snap.Records, RecordSnapshot{
			Seq:        rec.Seq,
			Transition: rec.TransitionID,
			Source:     rec.Source,
			Target:     rec.Target,
			Vars:       rec.Vars,
		})
	}
	return snap
}

// toCanonicalMap flattens the snapshot for canonical JSON. Empty
// fields are omitted so golden files stay minimal.
func (s TraceSnapshot) toCanonicalMap() map[string]any {
	out := map[string]any{
		"scenario": s.Scenario,
		"machine":  s.Machine,
	}
	if s.Token != "" {
		out["token"] = s.Token
	}
	if s.Status != "" {
		out["status"] = s.Status
	}
	if s.Failure != "" {
		out["failure"] = s.Failure
	}
	if len(s.Path) > 0 {
		out["path"] = s.Path
	}
	if len(s.Defects) > 0 {
		out["defects"] = s.Defects
	}
	if len(s.Records) > 0 {
		records := make([]any, len(s.Records))
		for i, rec := range s.Records {
			rm := map[string]any{
				"seq":        int64(rec.Seq),
				"transition": rec.Transition,
				"source":     rec.Source,
				"target":     rec.Target,
			}
			if len(rec.Vars) > 0 {
				rm["vars"] = rec.Vars
			}
			records[i] = rm
		}
		out["records"] = records
	}
	return out
}

// AssertGolden compares a result's trace against the golden file
// testdata/golden/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/scenario -update
func AssertGolden(t *testing.T, res *Result) error {
	t.Helper()

	traceJSON, err := spec.MarshalCanonical(Snapshot(res).toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, res.Scenario.Name, traceJSON)
	return nil
}
