package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/specterhq/specter/internal/spec"
)

// InvokeResult is what a driver reports for one trigger call.
type InvokeResult struct {
	// Value is the entry point's return value.
	Value spec.Value

	// Duration is the driver-measured wall-clock cost. Zero means the
	// driver did not measure; the executor falls back to its own clock.
	Duration time.Duration

	// MemoryDelta is the driver-measured memory change in bytes.
	MemoryDelta int64
}

// Driver is the target capability surface. The driver talks to
// whatever is under test; the engine treats it as opaque and never
// assumes a transport.
//
// Invoke fires an entry point once and reports the result with its
// measured cost. Poll is a single-shot check, called repeatedly by the
// executor's own wait loop.
type Driver interface {
	Invoke(ctx context.Context, entry string, args spec.Env) (InvokeResult, error)
	Poll(ctx context.Context, entry string, args spec.Env) (spec.Value, error)
}

// ScriptStep is one scripted response for a ScriptDriver entry point.
type ScriptStep struct {
	Value spec.Value
	Err   error

	// Sleep delays the response, to exercise budgets and timeouts.
	Sleep time.Duration

	// Duration and MemoryDelta override the reported measurements for
	// Invoke responses.
	Duration    time.Duration
	MemoryDelta int64
}

// ScriptDriver replays canned responses per entry point. It backs the
// scenario runner and the falsification harness, where runs must be
// reproducible without a live target.
//
// Each Invoke or Poll against an entry consumes the next scripted step
// for that entry; the final step repeats once the script is exhausted,
// so a poll script of [false, true] settles at true.
//
// Thread-safety: safe for concurrent use; each run should still own
// its driver, since consuming steps is stateful.
type ScriptDriver struct {
	mu    sync.Mutex
	steps map[string][]ScriptStep
	calls map[string]int
}

// NewScriptDriver creates an empty scripted driver.
func NewScriptDriver() *ScriptDriver {
	return &ScriptDriver{
		steps: make(map[string][]ScriptStep),
		calls: make(map[string]int),
	}
}

// Script appends scripted steps for an entry point.
func (d *ScriptDriver) Script(entry string, steps ...ScriptStep) *ScriptDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps[entry] = append(d.steps[entry], steps...)
	return d
}

// Calls reports how many times an entry point has been driven.
func (d *ScriptDriver) Calls(entry string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[entry]
}

func (d *ScriptDriver) next(entry string) (ScriptStep, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	steps, ok := d.steps[entry]
	if !ok || len(steps) == 0 {
		return ScriptStep{}, fmt.Errorf("no script for entry point %q", entry)
	}
	idx := d.calls[entry]
	d.calls[entry]++
	if idx >= len(steps) {
		idx = len(steps) - 1 // final step repeats
	}
	return steps[idx], nil
}

// Invoke implements Driver.
func (d *ScriptDriver) Invoke(ctx context.Context, entry string, _ spec.Env) (InvokeResult, error) {
	step, err := d.next(entry)
	if err != nil {
		return InvokeResult{}, err
	}
	if step.Sleep > 0 {
		select {
		case <-ctx.Done():
			return InvokeResult{}, ctx.Err()
		case <-time.After(step.Sleep):
		}
	}
	if step.Err != nil {
		return InvokeResult{}, step.Err
	}
	return InvokeResult{
		Value:       step.Value,
		Duration:    step.Duration,
		MemoryDelta: step.MemoryDelta,
	}, nil
}

// Poll implements Driver.
func (d *ScriptDriver) Poll(ctx context.Context, entry string, _ spec.Env) (spec.Value, error) {
	step, err := d.next(entry)
	if err != nil {
		return nil, err
	}
	if step.Sleep > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step.Sleep):
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Value, nil
}
