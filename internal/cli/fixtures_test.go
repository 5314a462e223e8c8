package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const pipelineCUE = `
machine: pipeline: {
	initial: "start"
	state: {
		start: {}
		loading: {}
		ready: {invariant: "load_result == true"}
		processing: {}
		completed: {terminal: true}
	}
	transition: {
		load: {
			from:    "start"
			to:      "loading"
			entry:   "load"
			expect:  true
			capture: "load_result"
			budget: {max_time: "1s", max_memory: "1MB"}
		}
		warm: {
			from:     "loading"
			to:       "ready"
			mode:     "wait"
			entry:    "warm"
			interval: "1ms"
			timeout:  "2s"
		}
		process: {
			from:  "ready"
			to:    "processing"
			entry: "process"
		}
		finish: {
			from:  "processing"
			to:    "completed"
			entry: "finish"
		}
	}
}
`

const brokenCUE = `
machine: broken: {
	initial: "start"
	state: {
		start: {}
		end: {}
	}
	transition: {
		go: {from: "start", to: "missing", entry: "go"}
	}
}
`

const completesYAML = `
name: pipeline-completes
machines: [pipeline.cue]
vars:
  region: eu
script:
  load:
    - {value: true, duration: "5ms", memory_delta: 4096}
  warm:
    - {value: false}
    - {value: true}
  process:
    - {value: true}
  finish:
    - {value: true}
expect:
  status: completed
  final: completed
  path: [start, loading, ready, processing, completed]
`

const mismatchYAML = `
name: pipeline-return-mismatch
machines: [pipeline.cue]
script:
  load:
    - {value: false}
expect:
  status: failed
  failure: RETURN_MISMATCH
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writePipelineFixtures lays out the pipeline machine plus a passing
// scenario in a fresh temp directory.
func writePipelineFixtures(t *testing.T) (dir, machinePath, scenarioPath string) {
	t.Helper()
	dir = t.TempDir()
	machinePath = writeFile(t, dir, "pipeline.cue", pipelineCUE)
	scenarioPath = writeFile(t, dir, "pipeline-completes.yaml", completesYAML)
	return dir, machinePath, scenarioPath
}
