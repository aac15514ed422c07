package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/cloudrove/cloudrove/internal/logger"
)

// BadgerStore implements Store on BadgerDB. TTLs map directly onto Badger
// entry TTLs, so expiry needs no sweeper goroutine. Pattern operations seek
// to the literal prefix of the glob and filter with a compiled regexp.
type BadgerStore struct {
	db *badger.DB
}

// BadgerConfig configures the Badger-backed store.
type BadgerConfig struct {
	// Dir is the on-disk location. Empty selects a purely in-memory
	// database, which is what the tests and the cache-only deployment use.
	Dir string

	// GCInterval controls how often value-log garbage collection runs.
	// Zero defaults to 10 minutes. Ignored for in-memory databases.
	GCInterval time.Duration
}

// NewBadgerStore opens (or creates) the database.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}
	// Badger logs through its own interface; route it to ours at debug.
	opts = opts.WithLogger(badgerLogAdapter{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Dir, err)
	}

	s := &BadgerStore{db: db}

	if cfg.Dir != "" {
		interval := cfg.GCInterval
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		go s.gcLoop(interval)
	}

	return s, nil
}

// Get reads and JSON-decodes the value at key.
func (s *BadgerStore) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv get %q: %w", key, err)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("kv decode %q: %w", key, err)
		}
	}
	return true, nil
}

// Set JSON-encodes value and writes it with the given TTL.
func (s *BadgerStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv encode %q: %w", key, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), raw)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes key; missing keys are a no-op.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// FindKeys returns live keys matching the glob pattern.
func (s *BadgerStore) FindKeys(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	re, err := compileGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("kv pattern %q: %w", pattern, err)
	}
	prefix := []byte(literalPrefix(pattern))

	var keys []string
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := string(it.Item().KeyCopy(nil))
			if re.MatchString(k) {
				keys = append(keys, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv find %q: %w", pattern, err)
	}
	return keys, nil
}

// DeleteByPattern removes all keys matching the glob pattern.
func (s *BadgerStore) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := s.FindKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete([]byte(k)); err != nil {
			return 0, fmt.Errorf("kv delete %q: %w", k, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("kv delete pattern %q: %w", pattern, err)
	}
	return len(keys), nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// gcLoop runs value-log GC until the database closes.
func (s *BadgerStore) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if s.db.IsClosed() {
			return
		}
		// ErrNoRewrite just means there was nothing to collect.
		if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			if s.db.IsClosed() {
				return
			}
			logger.Warn("badger value-log GC failed", logger.KeyError, err)
		}
	}
}

// badgerLogAdapter routes Badger's internal logs to the cloudrove logger
// at reduced verbosity.
type badgerLogAdapter struct{}

func (badgerLogAdapter) Errorf(f string, args ...any)   { logger.Error(fmt.Sprintf("badger: "+f, args...)) }
func (badgerLogAdapter) Warningf(f string, args ...any) { logger.Warn(fmt.Sprintf("badger: "+f, args...)) }
func (badgerLogAdapter) Infof(f string, args ...any)    { logger.Debug(fmt.Sprintf("badger: "+f, args...)) }
func (badgerLogAdapter) Debugf(f string, args ...any)   { logger.Debug(fmt.Sprintf("badger: "+f, args...)) }
