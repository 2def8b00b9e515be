package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"ragchat/internal/domain"
)

var (
	bucketMeta    = []byte("meta")
	bucketDocs    = []byte("docs")
	bucketEntries = []byte("entries")
	keyMeta       = []byte("index_meta")
)

// BoltIndexStorage persists index snapshots in a bbolt file.
//
// A snapshot is written to <path>.staging and renamed over <path> once it
// is committed and closed, so readers only ever open a complete file.
type BoltIndexStorage struct {
	path string
	mu   sync.Mutex
}

func NewBoltIndexStorage(path string) *BoltIndexStorage {
	return &BoltIndexStorage{path: path}
}

func (s *BoltIndexStorage) Path() string {
	return s.path
}

type docMeta struct {
	Path     string    `json:"path"`
	LoadedAt time.Time `json:"loaded_at"`
}

type storedEntry struct {
	DocID  string    `json:"doc_id"`
	Index  int       `json:"index"`
	Start  int       `json:"start"`
	Length int       `json:"length"`
	Text   string    `json:"text"`
	Vector []float32 `json:"v"`
}

// Persist writes snap and atomically replaces any previous snapshot.
func (s *BoltIndexStorage) Persist(snap domain.IndexSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	staging := s.path + ".staging"
	if err := os.Remove(staging); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear staging file: %w", err)
	}

	db, err := bbolt.Open(staging, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		data, err := json.Marshal(snap.Meta)
		if err != nil {
			return err
		}
		if err := meta.Put(keyMeta, data); err != nil {
			return err
		}

		docs, err := tx.CreateBucket(bucketDocs)
		if err != nil {
			return err
		}
		for _, doc := range snap.Documents {
			data, err := json.Marshal(docMeta{Path: doc.Path, LoadedAt: doc.LoadedAt})
			if err != nil {
				return err
			}
			if err := docs.Put([]byte(doc.ID), data); err != nil {
				return err
			}
		}

		entries, err := tx.CreateBucket(bucketEntries)
		if err != nil {
			return err
		}
		for i, entry := range snap.Entries {
			data, err := json.Marshal(storedEntry{
				DocID:  entry.Chunk.DocID,
				Index:  entry.Chunk.Index,
				Start:  entry.Chunk.Start,
				Length: entry.Chunk.Length,
				Text:   entry.Chunk.Text,
				Vector: entry.Vector,
			})
			if err != nil {
				return err
			}
			if err := entries.Put(seqKey(i), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		os.Remove(staging)
		return fmt.Errorf("failed to write index: %w", err)
	}

	if err := db.Close(); err != nil {
		os.Remove(staging)
		return fmt.Errorf("failed to close index: %w", err)
	}

	if err := os.Rename(staging, s.path); err != nil {
		os.Remove(staging)
		return fmt.Errorf("failed to publish index: %w", err)
	}
	return nil
}

// Load reads the current snapshot. A missing file, a file without index
// metadata, or an index with zero entries is domain.ErrIndexNotFound.
func (s *BoltIndexStorage) Load() (domain.IndexSnapshot, error) {
	var snap domain.IndexSnapshot

	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, fmt.Errorf("%w: %s", domain.ErrIndexNotFound, s.path)
		}
		return snap, fmt.Errorf("failed to stat index: %w", err)
	}

	db, err := bbolt.Open(s.path, 0600, &bbolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return snap, fmt.Errorf("failed to open bolt db: %w", err)
	}
	defer db.Close()

	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return fmt.Errorf("%w: no index metadata in %s", domain.ErrIndexNotFound, s.path)
		}
		data := meta.Get(keyMeta)
		if data == nil {
			return fmt.Errorf("%w: no index metadata in %s", domain.ErrIndexNotFound, s.path)
		}
		if err := json.Unmarshal(data, &snap.Meta); err != nil {
			return fmt.Errorf("corrupt index metadata: %w", err)
		}

		if docs := tx.Bucket(bucketDocs); docs != nil {
			err := docs.ForEach(func(k, v []byte) error {
				var dm docMeta
				if err := json.Unmarshal(v, &dm); err != nil {
					return fmt.Errorf("corrupt document record %q: %w", k, err)
				}
				snap.Documents = append(snap.Documents, domain.Document{
					ID:       string(k),
					Path:     dm.Path,
					LoadedAt: dm.LoadedAt,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}

		entries := tx.Bucket(bucketEntries)
		if entries == nil {
			return nil
		}
		// Keys are big-endian sequence numbers, so cursor order is insertion order.
		c := entries.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var se storedEntry
			if err := json.Unmarshal(v, &se); err != nil {
				return fmt.Errorf("corrupt index entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			snap.Entries = append(snap.Entries, domain.IndexEntry{
				Chunk: domain.Chunk{
					DocID:  se.DocID,
					Index:  se.Index,
					Text:   se.Text,
					Start:  se.Start,
					Length: se.Length,
				},
				Vector: se.Vector,
			})
		}
		return nil
	})
	if err != nil {
		return domain.IndexSnapshot{}, err
	}

	if len(snap.Entries) == 0 {
		return domain.IndexSnapshot{}, fmt.Errorf("%w: index at %s is empty", domain.ErrIndexNotFound, s.path)
	}
	return snap, nil
}

func seqKey(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}
