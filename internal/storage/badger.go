package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	defaultSequenceBandwidth = 100
	maxConflictRetries       = 10
)

// BadgerStore implements Store on an embedded BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	msgSeq *badger.Sequence
	logger *slog.Logger
}

var _ Store = (*BadgerStore)(nil)

// badgerLoggerAdapter adapts slog.Logger to the badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

// Badger is chatty at info level; it is demoted to debug.
func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBadger opens a store at dir, creating the directory if needed. With
// inMemory set, dir is ignored and nothing touches disk.
func OpenBadger(dir string, inMemory bool, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage")

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(dir)
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		} else if err != nil {
			return nil, err
		} else if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		opts = badger.DefaultOptions(dir)
	}

	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(messageSeq), defaultSequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("message sequence: %w", err)
	}

	return &BadgerStore{db: db, msgSeq: seq, logger: logger}, nil
}

// NewMemoryStore opens an in-memory store for tests and mock mode.
func NewMemoryStore() (*BadgerStore, error) {
	return OpenBadger("", true, nil)
}

// Close releases the message sequence and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.msgSeq.Release(); err != nil {
		s.logger.Warn("release message sequence", "error", err)
	}
	return s.db.Close()
}

// Ping reports whether the database is open.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return ctx.Err()
}

// withTx runs fn in a transaction. Write transactions are committed when fn
// succeeds and rerun when the commit loses a conflict.
func (s *BadgerStore) withTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	for attempt := 0; ; attempt++ {
		err := s.runTx(fn, isWrite)
		if isWrite && errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			s.logger.Debug("transaction conflict, retrying", "attempt", attempt+1)
			continue
		}
		return err
	}
}

func (s *BadgerStore) runTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := s.db.NewTransaction(isWrite)
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	if isWrite {
		return tx.Commit()
	}
	return nil
}

func getJSON(tx *badger.Txn, key []byte, v any) error {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(tx *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Set(key, data)
}

// scanKeys returns a copy of every key under prefix, in key order.
func scanKeys(tx *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	return keys
}

// scanJSON decodes values under prefix in key order, skipping the first skip
// entries and stopping after limit when limit is positive.
func scanJSON[T any](tx *badger.Txn, prefix []byte, skip, limit int) ([]*T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var out []*T
	i := 0
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if i < skip {
			i++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		v := new(T)
		if err := iter.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		}); err != nil {
			return nil, err
		}
		out = append(out, v)
		i++
	}
	return out, nil
}

func deletePrefix(tx *badger.Txn, prefix []byte) error {
	for _, key := range scanKeys(tx, prefix) {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
