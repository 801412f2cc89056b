// Package badger stores sales datasets in BadgerDB, either in memory
// (transient) or in a directory (persistent across processes).
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/imrishuroy/go-sales-reports/internal/orders"
)

const (
	keyPrefix      = "sales/"
	loadedAtKey    = keyPrefix + "meta/loaded_at"
	customerPrefix = keyPrefix + "customer/"
	orderPrefix    = keyPrefix + "order/"
	productPrefix  = keyPrefix + "product/"
	itemPrefix     = keyPrefix + "order_item/"
)

// Config holds configuration for the Badger-backed store.
type Config struct {
	// Path is the database directory. Empty means in-memory.
	Path string

	// SyncWrites fsyncs every commit. Ignored in memory.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger
}

// InMemory reports whether cfg selects a transient database.
func (c Config) InMemory() bool { return c.Path == "" }

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
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
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store persists one dataset at a time.
type Store struct {
	db        *badger.DB
	nowFunc   func() time.Time
	closeOnce sync.Once
	closeErr  error
}

// Open opens the database described by cfg, creating the directory if needed.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory() {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, nowFunc: time.Now}, nil
}

// OpenInMemory opens a transient store. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(Config{})
}

// SaveDataset replaces the stored dataset in a single transaction.
func (s *Store) SaveDataset(ctx context.Context, ds orders.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, []byte(keyPrefix)); err != nil {
			return err
		}
		for _, c := range ds.Customers {
			if err := setJSON(txn, fmt.Sprintf("%s%d", customerPrefix, c.ID), c); err != nil {
				return err
			}
		}
		for _, o := range ds.Orders {
			if err := setJSON(txn, fmt.Sprintf("%s%d", orderPrefix, o.ID), o); err != nil {
				return err
			}
		}
		for _, p := range ds.Products {
			if err := setJSON(txn, fmt.Sprintf("%s%d", productPrefix, p.ID), p); err != nil {
				return err
			}
		}
		for i, it := range ds.OrderItems {
			if err := setJSON(txn, fmt.Sprintf("%s%08d", itemPrefix, i), it); err != nil {
				return err
			}
		}
		return txn.Set([]byte(loadedAtKey), []byte(s.nowFunc().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return fmt.Errorf("badger save dataset: %w", err)
	}
	return nil
}

// LoadDataset reads back the stored dataset. It returns (nil, nil) if no
// dataset was ever saved.
func (s *Store) LoadDataset(ctx context.Context) (*orders.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ds *orders.Dataset
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(loadedAtKey)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		ds = &orders.Dataset{}
		if err := scanJSON(txn, customerPrefix, &ds.Customers); err != nil {
			return err
		}
		if err := scanJSON(txn, orderPrefix, &ds.Orders); err != nil {
			return err
		}
		if err := scanJSON(txn, productPrefix, &ds.Products); err != nil {
			return err
		}
		return scanJSON(txn, itemPrefix, &ds.OrderItems)
	})
	if err != nil {
		return nil, fmt.Errorf("badger load dataset: %w", err)
	}
	return ds, nil
}

// Close closes the database. Safe to call multiple times.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func setJSON(txn *badger.Txn, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), b)
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// scanJSON decodes every value under prefix, in key order, into out.
func scanJSON[T any](txn *badger.Txn, prefix string, out *[]T) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		var v T
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return fmt.Errorf("decode %s: %w", item.Key(), err)
		}
		*out = append(*out, v)
	}
	return nil
}
