package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var transcriptPrefix = []byte("tr:")

type LevelDBStore struct {
	db *leveldb.DB

	mu  sync.Mutex
	seq uint64
}

func NewLevelDB(path string) (*LevelDBStore, error) {
	p := filepath.Clean(path)
	db, err := leveldb.OpenFile(p, nil)
	if err != nil {
		return nil, err
	}
	s := &LevelDBStore{db: db}
	if err := s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LevelDBStore) Close() error { return s.db.Close() }

// keyRecord sorts lexically in sequence order.
func keyRecord(seq uint64) []byte {
	k := make([]byte, len(transcriptPrefix)+8)
	copy(k, transcriptPrefix)
	binary.BigEndian.PutUint64(k[len(transcriptPrefix):], seq)
	return k
}

func (s *LevelDBStore) loadSeq() error {
	it := s.db.NewIterator(util.BytesPrefix(transcriptPrefix), nil)
	defer it.Release()
	if it.Last() {
		key := it.Key()
		if len(key) != len(transcriptPrefix)+8 {
			return fmt.Errorf("corrupt transcript key %q", key)
		}
		s.seq = binary.BigEndian.Uint64(key[len(transcriptPrefix):])
	}
	return it.Error()
}

func (s *LevelDBStore) Append(rec Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Seq = s.seq + 1
	b, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	if err := s.db.Put(keyRecord(rec.Seq), b, nil); err != nil {
		return 0, err
	}
	s.seq = rec.Seq
	return rec.Seq, nil
}

func (s *LevelDBStore) List(frame string, limit int) ([]Record, error) {
	it := s.db.NewIterator(util.BytesPrefix(transcriptPrefix), nil)
	defer it.Release()
	out := make([]Record, 0)
	for it.Next() {
		var rec Record
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			continue
		}
		if frame != "" && rec.Frame != frame {
			continue
		}
		out = append(out, rec)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return tail(out, limit), nil
}
