package report

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"scopeleak/pkg/platform/sentinel"
)

const historyPrefix = "round/"

// HistoryStore keeps every reported round on disk, keyed by run ID then round
// number. Run IDs are time-ordered, so key order is report order.
type HistoryStore struct {
	db *pebble.DB
}

// OpenHistory opens (or creates) the store in dir.
func OpenHistory(dir string) (*HistoryStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Close flushes and closes the store.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// Report persists r.
func (h *HistoryStore) Report(_ context.Context, r Round) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	if err := h.db.Set(roundKey(r.RunID, r.Round), payload, pebble.Sync); err != nil {
		return fmt.Errorf("write round: %w", err)
	}
	return nil
}

// List returns every round of runID in round order. An unknown run yields
// sentinel.ErrNotFound.
func (h *HistoryStore) List(_ context.Context, runID string) ([]Round, error) {
	prefix := []byte(historyPrefix + runID + "/")
	iter, err := h.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("open history iterator: %w", err)
	}
	defer iter.Close()

	var rounds []Round
	for iter.First(); iter.Valid(); iter.Next() {
		r, err := decodeRound(iter.Value())
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	if len(rounds) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, sentinel.ErrNotFound)
	}
	return rounds, nil
}

// Latest returns up to limit of the most recently reported rounds, newest first.
func (h *HistoryStore) Latest(_ context.Context, limit int) ([]Round, error) {
	if limit <= 0 {
		return nil, nil
	}
	prefix := []byte(historyPrefix)
	iter, err := h.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("open history iterator: %w", err)
	}
	defer iter.Close()

	rounds := make([]Round, 0, limit)
	for iter.Last(); iter.Valid() && len(rounds) < limit; iter.Prev() {
		r, err := decodeRound(iter.Value())
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return rounds, nil
}

func decodeRound(value []byte) (Round, error) {
	var r Round
	if err := json.Unmarshal(value, &r); err != nil {
		return Round{}, fmt.Errorf("decode round: %w", err)
	}
	return r, nil
}

// roundKey is prefix + runID + "/" + big-endian round, so rounds sort numerically.
func roundKey(runID string, round int) []byte {
	key := make([]byte, 0, len(historyPrefix)+len(runID)+1+8)
	key = append(key, historyPrefix...)
	key = append(key, runID...)
	key = append(key, '/')
	return binary.BigEndian.AppendUint64(key, uint64(round))
}

func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
