// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/changewatch/internal/models"
)

// snapshotKeyPrefix namespaces entries: "snapshot:<category>:<entityId>".
const snapshotKeyPrefix = "snapshot:"

// BadgerCheckpoint implements Checkpointer using BadgerDB.
type BadgerCheckpoint struct {
	db *badger.DB
}

// NewBadgerCheckpoint wraps an open BadgerDB.
func NewBadgerCheckpoint(db *badger.DB) *BadgerCheckpoint {
	return &BadgerCheckpoint{db: db}
}

// OpenBadgerCheckpoint opens (or creates) a BadgerDB at path.
func OpenBadgerCheckpoint(path string) (*BadgerCheckpoint, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db %s: %w", path, err)
	}
	return NewBadgerCheckpoint(db), nil
}

// Close closes the underlying database.
func (b *BadgerCheckpoint) Close() error {
	return b.db.Close()
}

func entryKey(c models.Category, entityID string) []byte {
	return []byte(snapshotKeyPrefix + string(c) + ":" + entityID)
}

// Persist writes entries in a single write batch.
func (b *BadgerCheckpoint) Persist(ctx context.Context, c models.Category, entries map[string]Entry) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for id, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", id, err)
		}
		if err := wb.Set(entryKey(c, id), data); err != nil {
			return fmt.Errorf("set entry %s: %w", id, err)
		}
	}
	return wb.Flush()
}

// Load reads all stored entries grouped by category.
func (b *BadgerCheckpoint) Load(ctx context.Context) (map[models.Category]map[string]Entry, error) {
	out := make(map[models.Category]map[string]Entry)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapshotKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			rest := strings.TrimPrefix(string(item.Key()), snapshotKeyPrefix)
			cat, id, ok := strings.Cut(rest, ":")
			if !ok {
				continue
			}
			var e Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode entry %s: %w", rest, err)
			}
			c := models.Category(cat)
			if out[c] == nil {
				out[c] = make(map[string]Entry)
			}
			out[c][id] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
