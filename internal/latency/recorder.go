package latency

import (
	"cmp"
	"slices"
	"time"

	"github.com/ashureev/voxcore/internal/domain"
)

// DefaultRecorderSize is the number of diagnostic records kept.
const DefaultRecorderSize = 500

const topIntentCount = 5

// Record is the diagnostic trace of one handled utterance.
type Record struct {
	Timestamp          time.Time            `json:"timestamp"`
	UserID             string               `json:"user_id"`
	Transcript         string               `json:"transcript"`
	Intent             domain.IntentKind    `json:"intent"`
	Confidence         float64              `json:"confidence"`
	Provenance         domain.Provenance    `json:"provenance"`
	LatenciesMs        map[Checkpoint]int64 `json:"latencies_ms"`
	Errors             []string             `json:"errors,omitempty"`
	Violations         []string             `json:"violations,omitempty"`
	NeedsClarification bool                 `json:"needs_clarification"`
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	UserID            string
	Intents           []domain.IntentKind
	Since             time.Time
	ErrorsOnly        bool
	ClarificationOnly bool
	// Limit keeps the newest Limit matches.
	Limit int
}

func (f Filter) match(r Record) bool {
	switch {
	case f.UserID != "" && r.UserID != f.UserID:
		return false
	case len(f.Intents) > 0 && !slices.Contains(f.Intents, r.Intent):
		return false
	case !f.Since.IsZero() && r.Timestamp.Before(f.Since):
		return false
	case f.ErrorsOnly && len(r.Errors) == 0:
		return false
	case f.ClarificationOnly && !r.NeedsClarification:
		return false
	}
	return true
}

// IntentCount is one row of the top intents table.
type IntentCount struct {
	Intent domain.IntentKind `json:"intent"`
	Count  int               `json:"count"`
}

// Summary aggregates the records currently held.
type Summary struct {
	Total             int                       `json:"total"`
	TopIntents        []IntentCount             `json:"top_intents"`
	ErrorRate         float64                   `json:"error_rate"`
	ClarificationRate float64                   `json:"clarification_rate"`
	ViolationRate     float64                   `json:"violation_rate"`
	MeanLatencyMs     map[Checkpoint]float64    `json:"mean_latency_ms"`
	ByProvenance      map[domain.Provenance]int `json:"by_provenance"`
}

// Recorder keeps the most recent diagnostic records. It is safe for concurrent use.
type Recorder struct {
	ring *Ring[Record]
	now  func() time.Time
}

// NewRecorder creates a recorder holding size records.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultRecorderSize
	}
	return &Recorder{ring: NewRing[Record](size), now: time.Now}
}

// Record appends rec, stamping it when Timestamp is zero.
func (r *Recorder) Record(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	r.ring.Push(rec)
}

// Records returns matching records oldest first.
func (r *Recorder) Records(f Filter) []Record {
	var out []Record
	for _, rec := range r.ring.Items() {
		if f.match(rec) {
			out = append(out, rec)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Len returns the number of records held.
func (r *Recorder) Len() int {
	return r.ring.Len()
}

// Summary computes aggregate statistics over the held records.
func (r *Recorder) Summary() Summary {
	records := r.ring.Items()
	s := Summary{
		Total:         len(records),
		MeanLatencyMs: make(map[Checkpoint]float64),
		ByProvenance:  make(map[domain.Provenance]int),
	}
	if len(records) == 0 {
		return s
	}

	counts := make(map[domain.IntentKind]int)
	sums := make(map[Checkpoint]int64)
	samples := make(map[Checkpoint]int)
	var errs, clarifications, violations int
	for _, rec := range records {
		counts[rec.Intent]++
		s.ByProvenance[rec.Provenance]++
		if len(rec.Errors) > 0 {
			errs++
		}
		if rec.NeedsClarification {
			clarifications++
		}
		if len(rec.Violations) > 0 {
			violations++
		}
		for cp, ms := range rec.LatenciesMs {
			sums[cp] += ms
			samples[cp]++
		}
	}

	total := float64(len(records))
	s.ErrorRate = float64(errs) / total
	s.ClarificationRate = float64(clarifications) / total
	s.ViolationRate = float64(violations) / total
	for cp, sum := range sums {
		s.MeanLatencyMs[cp] = float64(sum) / float64(samples[cp])
	}

	for k, n := range counts {
		s.TopIntents = append(s.TopIntents, IntentCount{Intent: k, Count: n})
	}
	slices.SortFunc(s.TopIntents, func(a, b IntentCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Intent.String(), b.Intent.String())
	})
	if len(s.TopIntents) > topIntentCount {
		s.TopIntents = s.TopIntents[:topIntentCount]
	}
	return s
}

// Milliseconds converts tracker intervals for a Record.
func Milliseconds(intervals map[Checkpoint]time.Duration) map[Checkpoint]int64 {
	out := make(map[Checkpoint]int64, len(intervals))
	for cp, d := range intervals {
		out[cp] = d.Milliseconds()
	}
	return out
}
