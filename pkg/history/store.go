package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

// DefaultLimit is the number of records kept when no limit is configured.
const DefaultLimit = 500

var bucketRecords = []byte("completions")

// ErrNotFound is returned by Get for an unknown sequence number.
var ErrNotFound = errors.New("history record not found")

// Store persists records in a bbolt database.
//
// Records are keyed by a big-endian sequence so cursor order is insertion
// order. Once the journal exceeds the limit the oldest records are pruned.
type Store struct {
	db     *bolt.DB
	path   string
	limit  int
	logger *zap.Logger
}

// Open opens (or creates) the journal at path.
func Open(path string, limit int, logger *zap.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history bucket: %w", err)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, path: path, limit: limit, logger: logger}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores rec, assigning its sequence number.
func (s *Store) Append(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("history record is nil")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.Seq = seq
		buf, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal history record: %w", err)
		}
		if err := b.Put(itob(seq), buf); err != nil {
			return err
		}
		return prune(b, s.limit)
	})
}

// Get returns the record with sequence number seq.
func (s *Store) Get(seq uint64) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRecords).Get(itob(seq))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns all records.
func (s *Store) List(limit int) ([]Record, error) {
	out := []Record{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("parse history record %d: %w", btoi(k), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = count(tx.Bucket(bucketRecords))
		return nil
	})
	return n, err
}

// Notify implements plotter.Sink. Write errors are logged, not returned.
func (s *Store) Notify(n plotter.Notification) {
	rec := FromNotification(n)
	if err := s.Append(&rec); err != nil {
		s.logger.Warn("Failed to journal completion",
			zap.String("dispatch_id", n.DispatchID),
			zap.String("path", n.Path),
			zap.Error(err))
	}
}

// prune deletes the oldest records beyond limit. Keys are contiguous
// sequence numbers removed only from the front, so the record count follows
// from the bucket sequence and the first key without a scan.
func prune(b *bolt.Bucket, limit int) error {
	first, _ := b.Cursor().First()
	if first == nil {
		return nil
	}
	lo := btoi(first)
	hi := b.Sequence()
	for ; int(hi-lo+1) > limit; lo++ {
		if err := b.Delete(itob(lo)); err != nil {
			return err
		}
	}
	return nil
}

func count(b *bolt.Bucket) int {
	first, _ := b.Cursor().First()
	if first == nil {
		return 0
	}
	return int(b.Sequence() - btoi(first) + 1)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
