package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const snapshotPrefix = "snap:"

// Badger stores snapshots under snap:{unixnano}:{runID}. The timestamp is
// zero padded so key order is insertion order.
type Badger struct {
	db    *badger.DB
	clock clock
}

func OpenBadger() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger history: %w", err)
	}
	return &Badger{db: db}, nil
}

func snapshotKey(ts time.Time, runID string) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", snapshotPrefix, ts.UnixNano(), runID))
}

func (b *Badger) Append(ctx context.Context, snap Snapshot) error {
	snap.Timestamp = b.clock.next(snap.Timestamp)
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.Timestamp, snap.RunID), data)
	})
}

func (b *Badger) All(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	prefix := []byte(snapshotPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(v []byte) error {
				var snap Snapshot
				if err := json.Unmarshal(v, &snap); err != nil {
					return fmt.Errorf("decode snapshot: %w", err)
				}
				out = append(out, snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}
