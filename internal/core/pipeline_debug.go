// Per-stage timing for the processing pipeline
package core

import (
	"sync"
	"time"
)

// stageHistory bounds how many recent durations each stage keeps.
const stageHistory = 64

// StageTiming is the recent cost of one pipeline stage.
type StageTiming struct {
	Stage   string        `json:"stage"`
	Runs    uint64        `json:"runs"`
	Failed  uint64        `json:"failed"`
	Average time.Duration `json:"average_ns"`
	Last    time.Duration `json:"last_ns"`
}

// PipelineDebugger records how long each stage takes. Safe for concurrent use.
type PipelineDebugger struct {
	mu     sync.Mutex
	stages map[string]*stageRecord
	order  []string
}

type stageRecord struct {
	runs      uint64
	failed    uint64
	durations []time.Duration
	next      int
}

func NewPipelineDebugger() *PipelineDebugger {
	return &PipelineDebugger{stages: make(map[string]*stageRecord)}
}

// LogOperation records one stage run.
func (pd *PipelineDebugger) LogOperation(stage string, success bool, duration time.Duration) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	rec, ok := pd.stages[stage]
	if !ok {
		rec = &stageRecord{durations: make([]time.Duration, 0, stageHistory)}
		pd.stages[stage] = rec
		pd.order = append(pd.order, stage)
	}

	rec.runs++
	if !success {
		rec.failed++
		return
	}
	if len(rec.durations) < stageHistory {
		rec.durations = append(rec.durations, duration)
		rec.next = len(rec.durations) % stageHistory
		return
	}
	rec.durations[rec.next] = duration
	rec.next = (rec.next + 1) % stageHistory
}

// GetStats returns timings in first-seen stage order.
func (pd *PipelineDebugger) GetStats() []StageTiming {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	out := make([]StageTiming, 0, len(pd.order))
	for _, stage := range pd.order {
		rec := pd.stages[stage]
		timing := StageTiming{
			Stage:   stage,
			Runs:    rec.runs,
			Failed:  rec.failed,
			Average: averageDuration(rec.durations),
		}
		if n := len(rec.durations); n > 0 {
			last := rec.next - 1
			if last < 0 {
				last = n - 1
			}
			timing.Last = rec.durations[last]
		}
		out = append(out, timing)
	}
	return out
}

func averageDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	return total / time.Duration(len(durations))
}
