// Package latency records per-request stage timings, checks them against budgets and
// keeps a rolling log of diagnostic records.
package latency

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Checkpoint names a pipeline stage.
type Checkpoint string

const (
	CheckpointTranscriptReady   Checkpoint = "transcript_ready"
	CheckpointIntentResolved    Checkpoint = "intent_resolved"
	CheckpointGenerationStarted Checkpoint = "generation_started"
	CheckpointFirstToken        Checkpoint = "first_token"
	CheckpointComplete          Checkpoint = "complete"
)

// DefaultBudgets are the targets for each checkpoint, measured from Begin.
func DefaultBudgets() map[Checkpoint]time.Duration {
	return map[Checkpoint]time.Duration{
		CheckpointIntentResolved:    300 * time.Millisecond,
		CheckpointGenerationStarted: 800 * time.Millisecond,
		CheckpointFirstToken:        1500 * time.Millisecond,
		CheckpointComplete:          5000 * time.Millisecond,
	}
}

// Violation is a checkpoint reached later than its budget.
type Violation struct {
	Checkpoint Checkpoint    `json:"checkpoint"`
	Measured   time.Duration `json:"measured"`
	Budget     time.Duration `json:"budget"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s took %s, budget %s", v.Checkpoint, v.Measured, v.Budget)
}

// Report is the outcome of a budget check.
type Report struct {
	Passed     bool                         `json:"passed"`
	Violations []Violation                  `json:"violations,omitempty"`
	Intervals  map[Checkpoint]time.Duration `json:"intervals"`
}

// Descriptions renders the violations as text.
func (r Report) Descriptions() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.String()
	}
	return out
}

type timeline struct {
	start time.Time
	marks map[Checkpoint]time.Duration
}

// Tracker keeps checkpoint timestamps per in-flight request. Budget failures are
// observational only.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*timeline
	budgets  map[Checkpoint]time.Duration
	now      func() time.Time
}

// NewTracker creates a tracker. A nil budgets map uses DefaultBudgets.
func NewTracker(budgets map[Checkpoint]time.Duration, now func() time.Time) *Tracker {
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		sessions: make(map[string]*timeline),
		budgets:  budgets,
		now:      now,
	}
}

// Begin starts timing key, discarding any earlier timeline for it.
func (t *Tracker) Begin(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[key] = &timeline{start: t.now(), marks: make(map[Checkpoint]time.Duration)}
}

// Mark records cp for key relative to Begin. The first mark of a checkpoint wins.
func (t *Tracker) Mark(key string, cp Checkpoint) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tl := t.sessions[key]
	if tl == nil {
		return 0, false
	}
	if d, ok := tl.marks[cp]; ok {
		return d, true
	}
	d := t.now().Sub(tl.start)
	tl.marks[cp] = d
	return d, true
}

// Intervals returns a copy of the checkpoints recorded for key.
func (t *Tracker) Intervals(key string) map[Checkpoint]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	tl := t.sessions[key]
	if tl == nil {
		return nil
	}
	out := make(map[Checkpoint]time.Duration, len(tl.marks))
	for k, v := range tl.marks {
		out[k] = v
	}
	return out
}

// CheckTargets compares the recorded checkpoints of key with their budgets. Unreached
// checkpoints are not violations.
func (t *Tracker) CheckTargets(key string) Report {
	intervals := t.Intervals(key)
	rep := Report{Passed: true, Intervals: intervals}
	for cp, measured := range intervals {
		budget, ok := t.budgets[cp]
		if ok && measured > budget {
			rep.Violations = append(rep.Violations, Violation{Checkpoint: cp, Measured: measured, Budget: budget})
		}
	}
	slices.SortFunc(rep.Violations, func(a, b Violation) int {
		return cmp.Compare(a.Budget, b.Budget)
	})
	rep.Passed = len(rep.Violations) == 0
	return rep
}

// Finish checks key and forgets it.
func (t *Tracker) Finish(key string) Report {
	rep := t.CheckTargets(key)
	t.mu.Lock()
	delete(t.sessions, key)
	t.mu.Unlock()
	return rep
}

// Len returns the number of timelines in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
