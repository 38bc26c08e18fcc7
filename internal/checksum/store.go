package checksum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dshills/hadith-search/pkg/types"
)

const keyPrefix = "cs:"

// Record is the stored state for one document id
type Record struct {
	Checksum  string    `msgpack:"c"`
	UpdatedAt time.Time `msgpack:"u"`
}

// Store is the durable id -> checksum table consulted by ingestion. It lives
// in its own Badger database, independent of both search indexes.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger routes Badger's internal logging through slog
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

// Badger is chatty at info level; demote to debug
func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenOption configures Open
type OpenOption func(*openConfig)

type openConfig struct {
	readOnly bool
}

// WithReadOnly opens an existing on-disk store without taking the writer
// lock. Put and Delete fail on a read-only store.
func WithReadOnly() OpenOption {
	return func(c *openConfig) { c.readOnly = true }
}

// Open opens the checksum store in dir, creating it if needed.
// An empty dir opens an in-memory store. Badger allows one writer per
// directory, so a second writable Open of the same dir fails with
// types.ErrIndexUnavailable.
func Open(dir string, logger *slog.Logger, opts ...OpenOption) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "checksum-store")

	var oc openConfig
	for _, opt := range opts {
		opt(&oc)
	}

	var bopts badger.Options
	switch {
	case dir == "":
		if oc.readOnly {
			return nil, fmt.Errorf("%w: an in-memory checksum store cannot be read-only", types.ErrInvalidArgument)
		}
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case oc.readOnly:
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("%w: checksum store: %w", types.ErrIndexUnavailable, err)
		}
		bopts = badger.DefaultOptions(dir).WithReadOnly(true)
	default:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create checksum dir: %w", err)
		}
		bopts = badger.DefaultOptions(dir)
	}
	bopts.Logger = &badgerLogger{logger: logger}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open checksum store: %w", types.ErrIndexUnavailable, err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored checksum for id and whether one exists
func (s *Store) Get(ctx context.Context, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read checksum for %s: %w", id, err)
	}
	return rec.Checksum, true, nil
}

// Put records checksum as the last successfully indexed state of id
func (s *Store) Put(ctx context.Context, id, checksum string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := msgpack.Marshal(&Record{Checksum: checksum, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode checksum record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(id), val)
	})
	if err != nil {
		return fmt.Errorf("failed to store checksum for %s: %w", id, err)
	}
	return nil
}

// Delete forgets id so the next ingestion rewrites it
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete checksum for %s: %w", id, err)
	}
	return nil
}

// Count returns the number of tracked ids
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count checksums: %w", err)
	}
	return n, nil
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}
