package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// JSONStore keeps one checkpoint_<strategy>.json array per strategy, the
// format earlier evaluation scripts read.
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

// NewJSONStore stores checkpoint files under dir
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

// Path returns the checkpoint file for a strategy
func (s *JSONStore) Path(strategy domain.Strategy) string {
	return filepath.Join(s.dir, fmt.Sprintf("checkpoint_%s.json", strategy))
}

func (s *JSONStore) load(strategy domain.Strategy) (map[string]domain.SolveResult, error) {
	data, err := os.ReadFile(s.Path(strategy))
	if os.IsNotExist(err) {
		return map[string]domain.SolveResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	var list []domain.SolveResult
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.Path(strategy), err)
	}
	byID := make(map[string]domain.SolveResult, len(list))
	for _, r := range list {
		if r.Strategy == "" {
			r.Strategy = strategy
		}
		byID[r.InstanceID] = r
	}
	return byID, nil
}

func (s *JSONStore) save(strategy domain.Strategy, byID map[string]domain.SolveResult) error {
	list := make([]domain.SolveResult, 0, len(byID))
	for _, r := range byID {
		list = append(list, r)
	}
	sortResults(list)

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	// write-then-rename so an interrupted save never truncates the checkpoint
	tmp := s.Path(strategy) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path(strategy))
}

// Get implements Store
func (s *JSONStore) Get(strategy domain.Strategy, instanceID string) (domain.SolveResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, err := s.load(strategy)
	if err != nil {
		return domain.SolveResult{}, false, err
	}
	r, ok := byID[instanceID]
	return r, ok, nil
}

// Put implements Store
func (s *JSONStore) Put(results ...domain.SolveResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grouped := make(map[domain.Strategy][]domain.SolveResult)
	for _, r := range results {
		grouped[r.Strategy] = append(grouped[r.Strategy], r)
	}
	for strategy, rs := range grouped {
		byID, err := s.load(strategy)
		if err != nil {
			return err
		}
		for _, r := range rs {
			byID[r.InstanceID] = r
		}
		if err := s.save(strategy, byID); err != nil {
			return err
		}
	}
	return nil
}

// All implements Store
func (s *JSONStore) All(strategy domain.Strategy) ([]domain.SolveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	strategies := []domain.Strategy{strategy}
	if strategy == "" {
		var err error
		if strategies, err = s.strategies(); err != nil {
			return nil, err
		}
	}

	var out []domain.SolveResult
	for _, st := range strategies {
		byID, err := s.load(st)
		if err != nil {
			return nil, err
		}
		for _, r := range byID {
			out = append(out, r)
		}
	}
	sortResults(out)
	return out, nil
}

func (s *JSONStore) strategies() ([]domain.Strategy, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "checkpoint_*.json"))
	if err != nil {
		return nil, err
	}
	var out []domain.Strategy
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "checkpoint_"), ".json")
		out = append(out, domain.Strategy(name))
	}
	return out, nil
}

// Clear implements Store
func (s *JSONStore) Clear(strategy domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.Path(strategy))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close implements Store
func (s *JSONStore) Close() error { return nil }
