// Package observer tracks in-flight solve attempts and aggregates their outcomes.
package observer

import (
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// Attempt is one (instance, strategy) solve that has started
type Attempt struct {
	InstanceID string          `json:"instance_id"`
	Strategy   domain.Strategy `json:"strategy"`
	StartedAt  time.Time       `json:"started_at"`
}

func (a Attempt) key() string { return string(a.Strategy) + "/" + a.InstanceID }

// Observer monitors attempt execution and collects metrics
type Observer struct {
	stuckThreshold time.Duration
	now            func() time.Time

	running     map[string]Attempt
	completions []completion
	mu          sync.RWMutex
}

type completion struct {
	InstanceID  string
	Strategy    domain.Strategy
	Duration    time.Duration
	Tokens      int
	HasPatch    bool
	Failed      bool
	CompletedAt time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	Running         int           `json:"running"`
	TotalCompleted  int           `json:"total_completed"`
	TotalFailed     int           `json:"total_failed"`
	TotalWithPatch  int           `json:"total_with_patch"`
	TotalTokens     int           `json:"total_tokens"`
	AvgDuration     time.Duration `json:"avg_duration_ns"`
	AvgDurationSecs float64       `json:"avg_duration_sec"`
}

// New creates a new Observer
func New(stuckThreshold time.Duration) *Observer {
	return &Observer{
		stuckThreshold: stuckThreshold,
		now:            time.Now,
		running:        make(map[string]Attempt),
	}
}

// Start marks an attempt as running
func (o *Observer) Start(inst domain.TaskInstance, strategy domain.Strategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := Attempt{InstanceID: inst.InstanceID, Strategy: strategy, StartedAt: o.now()}
	o.running[a.key()] = a
}

// Finish records the outcome of a running attempt
func (o *Observer) Finish(res domain.SolveResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.running, Attempt{InstanceID: res.InstanceID, Strategy: res.Strategy}.key())
	o.completions = append(o.completions, completion{
		InstanceID:  res.InstanceID,
		Strategy:    res.Strategy,
		Duration:    time.Duration(res.ElapsedSeconds * float64(time.Second)),
		Tokens:      res.TokensUsed,
		HasPatch:    res.Patch != "",
		Failed:      res.Error != "",
		CompletedAt: o.now(),
	})
}

// IsStuck returns true if an attempt has been running longer than the threshold
func (o *Observer) IsStuck(a Attempt) bool {
	if a.StartedAt.IsZero() || o.stuckThreshold <= 0 {
		return false
	}
	return o.now().Sub(a.StartedAt) > o.stuckThreshold
}

// Running returns in-flight attempts, oldest first
func (o *Observer) Running() []Attempt {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Attempt, 0, len(o.running))
	for _, a := range o.running {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].key() < out[j].key()
	})
	return out
}

// Stuck returns the in-flight attempts past the threshold
func (o *Observer) Stuck() []Attempt {
	var stuck []Attempt
	for _, a := range o.Running() {
		if o.IsStuck(a) {
			stuck = append(stuck, a)
		}
	}
	return stuck
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	metrics := Metrics{Running: len(o.running)}
	var totalDuration time.Duration

	for _, c := range o.completions {
		metrics.TotalCompleted++
		if c.Failed {
			metrics.TotalFailed++
		}
		if c.HasPatch {
			metrics.TotalWithPatch++
		}
		metrics.TotalTokens += c.Tokens
		totalDuration += c.Duration
	}

	if metrics.TotalCompleted > 0 {
		metrics.AvgDuration = totalDuration / time.Duration(metrics.TotalCompleted)
		metrics.AvgDurationSecs = metrics.AvgDuration.Seconds()
	}

	return metrics
}

// GetRecentCompletions returns instance IDs completed within the last duration
func (o *Observer) GetRecentCompletions(since time.Duration) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := o.now().Add(-since)
	var result []string

	for _, c := range o.completions {
		if c.CompletedAt.After(cutoff) {
			result = append(result, c.InstanceID)
		}
	}

	return result
}
