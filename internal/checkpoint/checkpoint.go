// Package checkpoint persists SolveResults keyed by (strategy, instance_id)
// so interrupted batches can resume.
package checkpoint

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hochfrequenz/swe-orchestrator/internal/config"
	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// Store is a keyed result store. At most one result is kept per
// (strategy, instance_id); Put overwrites.
type Store interface {
	Get(strategy domain.Strategy, instanceID string) (domain.SolveResult, bool, error)
	Put(results ...domain.SolveResult) error
	// All returns the results for a strategy ordered by instance id; an empty
	// strategy returns every stored result.
	All(strategy domain.Strategy) ([]domain.SolveResult, error)
	Clear(strategy domain.Strategy) error
	Close() error
}

// Open creates the store selected by the checkpoint config
func Open(cfg config.CheckpointConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return NewSQLiteStore(cfg.Path)
	case config.BackendJSON:
		dir := cfg.Path
		if filepath.Ext(dir) != "" {
			dir = filepath.Dir(dir)
		}
		return NewJSONStore(dir)
	case config.BackendBadger:
		return NewBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// Completed returns the instance ids already recorded for a strategy
func Completed(s Store, strategy domain.Strategy) (map[string]bool, error) {
	results, err := s.All(strategy)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(results))
	for _, r := range results {
		done[r.InstanceID] = true
	}
	return done, nil
}

func sortResults(rs []domain.SolveResult) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Strategy != rs[j].Strategy {
			return rs[i].Strategy < rs[j].Strategy
		}
		return rs[i].InstanceID < rs[j].InstanceID
	})
}
