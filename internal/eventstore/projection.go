package eventstore

import (
	"context"
	"sort"
	"time"
)

// RunSummary is the projection of one run's events.
type RunSummary struct {
	RunID       string
	Command     string
	Environment string
	BuildNumber string
	Started     time.Time
	Finished    time.Time
	Completed   bool
	Built       []string
	Skipped     []string
	Failed      map[string]string
	BundleErrs  []string
	Published   int
	Error       string
}

// Status returns "running", "failed" or "succeeded".
func (s *RunSummary) Status() string {
	switch {
	case !s.Completed:
		return "running"
	case s.Error != "" || len(s.Failed) > 0 || len(s.BundleErrs) > 0:
		return "failed"
	default:
		return "succeeded"
	}
}

// Duration returns the run's wall time, zero while it is still running.
func (s *RunSummary) Duration() time.Duration {
	if !s.Completed {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

// RunHistoryProjection folds events into run summaries.
type RunHistoryProjection struct {
	runs map[string]*RunSummary
}

// NewRunHistoryProjection creates an empty projection.
func NewRunHistoryProjection() *RunHistoryProjection {
	return &RunHistoryProjection{runs: make(map[string]*RunSummary)}
}

// Apply folds one event into the projection. Unknown event types and
// undecodable payloads are ignored.
func (p *RunHistoryProjection) Apply(e Event) {
	s, ok := p.runs[e.RunID()]
	if !ok {
		s = &RunSummary{RunID: e.RunID(), Started: e.Timestamp(), Failed: map[string]string{}}
		p.runs[e.RunID()] = s
	}

	switch e.Type() {
	case TypeRunStarted:
		var ev RunStarted
		if Decode(e, &ev) == nil {
			s.Started = e.Timestamp()
			s.Command = ev.Command
			s.Environment = ev.Environment
			s.BuildNumber = ev.BuildNumber
		}
	case TypeServiceBuilt:
		var ev ServiceBuilt
		if Decode(e, &ev) == nil {
			s.Built = append(s.Built, ev.Service)
		}
	case TypeServiceSkipped:
		var ev ServiceSkipped
		if Decode(e, &ev) == nil {
			s.Skipped = append(s.Skipped, ev.Service)
		}
	case TypeServiceFailed:
		var ev ServiceFailed
		if Decode(e, &ev) == nil {
			s.Failed[ev.Service] = ev.Error
		}
	case TypeBundleFailed:
		var ev BundleFailed
		if Decode(e, &ev) == nil {
			s.BundleErrs = append(s.BundleErrs, ev.Bundle)
		}
	case TypeAssetPublished:
		s.Published++
	case TypeRunCompleted:
		var ev RunCompleted
		if Decode(e, &ev) == nil {
			s.Completed = true
			s.Finished = e.Timestamp()
			s.Error = ev.Error
		}
	}
}

// Runs returns the summaries, newest first.
func (p *RunHistoryProjection) Runs() []*RunSummary {
	out := make([]*RunSummary, 0, len(p.runs))
	for _, s := range p.runs {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].Started.After(out[j].Started)
	})
	return out
}

// Get returns the summary for runID.
func (p *RunHistoryProjection) Get(runID string) (*RunSummary, bool) {
	s, ok := p.runs[runID]
	return s, ok
}

// ListRuns projects every run with events newer than since, newest first,
// keeping at most limit runs when limit is positive.
func ListRuns(ctx context.Context, store Store, since time.Time, limit int) ([]*RunSummary, error) {
	events, err := store.GetRange(ctx, since, time.Now().Add(time.Minute))
	if err != nil {
		return nil, err
	}
	p := NewRunHistoryProjection()
	for _, e := range events {
		p.Apply(e)
	}
	runs := p.Runs()
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
