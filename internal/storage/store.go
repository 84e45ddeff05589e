package storage

import (
	"fmt"
	"sync"
	"time"
)

// Record is one wire message that crossed a frame.
type Record struct {
	Seq       uint64    `json:"seq"`
	Frame     string    `json:"frame"`
	Direction string    `json:"direction"`
	At        time.Time `json:"at"`
	Data      string    `json:"data"`
}

// Store keeps a message transcript for post-hoc diagnosis.
type Store interface {
	// Append assigns the next sequence number to rec and stores it.
	Append(rec Record) (uint64, error)
	// List returns records for frame (all frames if empty), oldest first.
	// limit<=0 means no limit; otherwise the newest limit records are returned.
	List(frame string, limit int) ([]Record, error)

	// Close closes the storage and releases resources
	Close() error
}

// InMemory is a simple in-memory transcript.
type InMemory struct {
	mu      sync.Mutex
	seq     uint64
	records []Record
}

func NewInMemory() *InMemory {
	return &InMemory{records: []Record{}}
}

func (s *InMemory) Append(rec Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec.Seq = s.seq
	s.records = append(s.records, rec)
	return rec.Seq, nil
}

func (s *InMemory) List(frame string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if frame != "" && rec.Frame != frame {
			continue
		}
		out = append(out, rec)
	}
	return tail(out, limit), nil
}

// Close implements Store interface - no resources to release for in-memory store
func (s *InMemory) Close() error {
	return nil
}

func tail(recs []Record, limit int) []Record {
	if limit > 0 && len(recs) > limit {
		return recs[len(recs)-limit:]
	}
	return recs
}

// Transcript adapts a Store to the messenger's recorder hook for one frame.
type Transcript struct {
	store Store
	frame string
	now   func() time.Time
}

func NewTranscript(store Store, frame string) *Transcript {
	return &Transcript{store: store, frame: frame, now: time.Now}
}

// Record stores one message. data is kept verbatim, including malformed input.
func (t *Transcript) Record(direction string, data []byte) error {
	_, err := t.store.Append(Record{
		Frame:     t.frame,
		Direction: direction,
		At:        t.now().UTC(),
		Data:      string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to append transcript record: %w", err)
	}
	return nil
}
