package store

import (
	"context"
	"sync"
)

// Stream names used by the engine
const (
	StreamEdgeSnapshots    = "edge_snapshots"
	StreamExecutionHistory = "execution_history"
)

// Record is one durably appended entry: an opaque payload plus the cursor
// it was assigned at append time. Cursors are monotonic within a stream.
type Record struct {
	Cursor  int64  `json:"cursor" db:"cursor"`
	Payload []byte `json:"payload" db:"payload"`
}

// Store is the durable append-only tier. Streams are independent; reads
// iterate from a cursor in append order.
type Store interface {
	Append(ctx context.Context, stream string, payload []byte) (int64, error)
	Read(ctx context.Context, stream string, fromCursor int64) ([]Record, error)
}

type memoryStore struct {
	mu      sync.RWMutex
	streams map[string][]Record
}

// NewMemory creates an in-process store for tests and single-node runs
func NewMemory() Store {
	return &memoryStore{streams: make(map[string][]Record)}
}

func (s *memoryStore) Append(ctx context.Context, stream string, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor := int64(len(s.streams[stream]) + 1)
	s.streams[stream] = append(s.streams[stream], Record{
		Cursor:  cursor,
		Payload: append([]byte(nil), payload...),
	})
	return cursor, nil
}

func (s *memoryStore) Read(ctx context.Context, stream string, fromCursor int64) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.streams[stream] {
		if rec.Cursor >= fromCursor {
			out = append(out, rec)
		}
	}
	return out, nil
}
