// internal/storage/pebble.go
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleJournal stores records in an embedded pebble database. Keys are
// market|block|index with fixed-width big-endian numbers, so pebble's byte
// order is exactly the journal order.
type PebbleJournal struct {
	db     *pebble.DB
	logger *zap.Logger
}

// OpenPebble opens (or creates) the journal database under path.
func OpenPebble(path string, logger *zap.Logger) (*PebbleJournal, error) {
	if path == "" {
		return nil, errors.New("storage: pebble path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble journal at %s: %w", path, err)
	}
	return &PebbleJournal{db: db, logger: logger.Named("pebble_journal")}, nil
}

func recordKey(market string, block uint64, index uint32) []byte {
	key := make([]byte, 0, len(market)+12)
	key = append(key, market...)
	key = binary.BigEndian.AppendUint64(key, block)
	key = binary.BigEndian.AppendUint32(key, index)
	return key
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}

// Append stores the record unless its key already exists.
func (p *PebbleJournal) Append(_ context.Context, rec Record) error {
	key := recordKey(rec.Market, rec.Block, rec.Index)

	_, closer, err := p.db.Get(key)
	if err == nil {
		closer.Close()
		return nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("probe journal key %s: %w", rec.Key(), err)
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode journal record %s: %w", rec.Key(), err)
	}
	if err := p.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("write journal record %s: %w", rec.Key(), err)
	}
	return nil
}

// List returns matching records in key order.
func (p *PebbleJournal) List(_ context.Context, market string, limit, offset int) ([]Record, error) {
	iter, err := p.newIter(market)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	skipped := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode journal record: %w", err)
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return out, nil
}

// Count reports how many records match.
func (p *PebbleJournal) Count(_ context.Context, market string) (int64, error) {
	iter, err := p.newIter(market)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var n int64
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}
	return n, nil
}

func (p *PebbleJournal) newIter(market string) (*pebble.Iterator, error) {
	opts := &pebble.IterOptions{}
	if market != "" {
		prefix := []byte(market)
		opts.LowerBound = prefix
		opts.UpperBound = keyUpperBound(prefix)
	}
	iter, err := p.db.NewIter(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal iterator: %w", err)
	}
	return iter, nil
}

// Close flushes and closes the database.
func (p *PebbleJournal) Close() error {
	return p.db.Close()
}
