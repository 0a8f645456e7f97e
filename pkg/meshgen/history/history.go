// Package history records generation runs in an embedded Badger database.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

// Key prefixes
const (
	prefixRun  = "r:" // run id -> JSON
	prefixTime = "t:" // start time + id -> id, for ordered listing
	prefixMeta = "m:"
)

// ErrNotFound is returned when no run matches an id.
var ErrNotFound = errors.New("run not found")

// ErrAmbiguous is returned when an id prefix matches more than one run.
var ErrAmbiguous = errors.New("run id prefix is ambiguous")

// Run is one recorded invocation of the tool.
type Run struct {
	ID         string        `json:"id" yaml:"id"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
	Input      string        `json:"input" yaml:"input"`
	OutputDir  string        `json:"output_dir" yaml:"output_dir"`
	Params     params.Params `json:"params" yaml:"params"`
	Tier       string        `json:"tier" yaml:"tier"`
	Outcome    types.Outcome `json:"outcome" yaml:"outcome"`
	ExitCode   int           `json:"exit_code" yaml:"exit_code"`
	Stage      string        `json:"stage" yaml:"stage"`
	Percent    float64       `json:"percent" yaml:"percent"`
	Lines      int           `json:"lines" yaml:"lines"`
	Artifacts  []string      `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	Hint       string        `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// NewID returns a fresh run id.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first eight characters of id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Duration returns how long the run took, or zero while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store is the run history backed by Badger.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(id string) []byte {
	return []byte(prefixRun + id)
}

func timeKey(r *Run) []byte {
	key := make([]byte, 0, len(prefixTime)+8+len(r.ID))
	key = append(key, prefixTime...)
	key = binary.BigEndian.AppendUint64(key, uint64(r.StartedAt.UnixNano()))
	return append(key, r.ID...)
}

// Put inserts or replaces a run.
func (s *Store) Put(r *Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		// Drop a stale time index entry if the start time changed.
		if old, err := getRun(txn, r.ID); err == nil && !old.StartedAt.Equal(r.StartedAt) {
			if err := txn.Delete(timeKey(old)); err != nil {
				return err
			}
		}
		if err := txn.Set(runKey(r.ID), data); err != nil {
			return err
		}
		return txn.Set(timeKey(r), []byte(r.ID))
	})
}

func getRun(txn *badger.Txn, id string) (*Run, error) {
	item, err := txn.Get(runKey(id))
	if err != nil {
		return nil, err
	}
	var r Run
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	return &r, err
}

// Get returns the run with the given id. A unique prefix of an id also matches.
func (s *Store) Get(id string) (*Run, error) {
	var run *Run
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := getRun(txn, id)
		if err == nil {
			run = r
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := runKey(id)
		var matches []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			matches = append(matches, strings.TrimPrefix(string(it.Item().Key()), prefixRun))
		}
		switch len(matches) {
		case 0:
			return ErrNotFound
		case 1:
			run, err = getRun(txn, matches[0])
			return err
		default:
			return fmt.Errorf("%w: %q matches %d runs", ErrAmbiguous, id, len(matches))
		}
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns up to limit runs, newest first. A limit of 0 returns all.
func (s *Store) List(limit int) ([]*Run, error) {
	var runs []*Run
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= seek key.
		seek := append([]byte(prefixTime), 0xff)
		prefix := []byte(prefixTime)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}
			r, err := getRun(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			runs = append(runs, r)
		}
		return nil
	})
	return runs, err
}

// DeleteBefore removes every run that started before cutoff and returns
// how many were removed.
func (s *Store) DeleteBefore(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		end := uint64(cutoff.UnixNano())
		prefix := []byte(prefixTime)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if binary.BigEndian.Uint64(key[len(prefixTime):len(prefixTime)+8]) >= end {
				break
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			keys = append(keys, key, runKey(string(id)))
		}

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		removed = len(keys) / 2
		return nil
	})
	return removed, err
}

// Count returns the number of recorded runs.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRun)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
