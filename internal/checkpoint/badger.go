package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// BadgerStore keeps results in an embedded BadgerDB under "result/<strategy>/<instance_id>"
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerStore opens a store at dir; an empty dir opens an in-memory database
func NewBadgerStore(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(&badgerLogger{logger: slog.Default().With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func resultKey(strategy domain.Strategy, instanceID string) []byte {
	return []byte("result/" + string(strategy) + "/" + instanceID)
}

func strategyPrefix(strategy domain.Strategy) []byte {
	if strategy == "" {
		return []byte("result/")
	}
	return []byte("result/" + string(strategy) + "/")
}

// Get implements Store
func (s *BadgerStore) Get(strategy domain.Strategy, instanceID string) (domain.SolveResult, bool, error) {
	var r domain.SolveResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resultKey(strategy, instanceID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.SolveResult{}, false, nil
	}
	if err != nil {
		return domain.SolveResult{}, false, err
	}
	return r, true, nil
}

// Put implements Store
func (s *BadgerStore) Put(results ...domain.SolveResult) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, r := range results {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := txn.Set(resultKey(r.Strategy, r.InstanceID), data); err != nil {
				return fmt.Errorf("saving %s: %w", r.InstanceID, err)
			}
		}
		return nil
	})
}

// All implements Store
func (s *BadgerStore) All(strategy domain.Strategy) ([]domain.SolveResult, error) {
	var out []domain.SolveResult
	prefix := strategyPrefix(strategy)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r domain.SolveResult
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortResults(out)
	return out, nil
}

// Clear implements Store
func (s *BadgerStore) Clear(strategy domain.Strategy) error {
	return s.db.DropPrefix(strategyPrefix(strategy))
}

// Close implements Store
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
