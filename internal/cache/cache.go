// Package cache persists the console state between runs in a badger
// database, so a console can show the last known instance list before it
// has reached the server.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"evalgo.org/nimbus/models"
)

const (
	snapshotPrefix = "snapshot:"
	savedAtKey     = "meta:saved_at"
)

// ErrEmpty is returned by SavedAt when nothing was saved yet.
var ErrEmpty = errors.New("cache is empty")

// Cache stores the dispatches that rebuild a console store.
type Cache struct {
	db *badger.DB
}

// Open opens (or creates) the cache at path.
func Open(path string) (*Cache, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	return open(opts)
}

// OpenInMemory opens a cache that lives only as long as the process.
func OpenInMemory() (*Cache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Cache, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func snapshotKey(i int) []byte {
	return []byte(fmt.Sprintf("%s%06d", snapshotPrefix, i))
}

// Save replaces the stored snapshot with dispatches.
func (c *Cache) Save(dispatches []models.InstanceDispatch) error {
	return c.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, []byte(snapshotPrefix)); err != nil {
			return err
		}

		for i, d := range dispatches {
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("failed to encode dispatch: %w", err)
			}
			if err := txn.Set(snapshotKey(i), data); err != nil {
				return err
			}
		}

		stamp, err := time.Now().UTC().MarshalText()
		if err != nil {
			return err
		}
		return txn.Set([]byte(savedAtKey), stamp)
	})
}

// Load returns the stored dispatches in the order they were saved. An
// empty cache yields no dispatches and no error.
func (c *Cache) Load() ([]models.InstanceDispatch, error) {
	var out []models.InstanceDispatch

	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(snapshotPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var d models.InstanceDispatch
				if err := json.Unmarshal(v, &d); err != nil {
					return err
				}
				out = append(out, d)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to decode cached dispatch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SavedAt returns when the snapshot was last saved.
func (c *Cache) SavedAt() (time.Time, error) {
	var t time.Time
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(savedAtKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrEmpty
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return t.UnmarshalText(v)
		})
	})
	return t, err
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	var keys [][]byte
	it := txn.NewIterator(opts)
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
