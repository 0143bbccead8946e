// Package badger persists the audit trail as a hash-chained, append-only log
// in an embedded Badger database. Keys are big-endian sequence numbers so
// iteration order is append order; a head key tracks the last sequence and hash.
// Appends are idempotent on event ID so redelivered relay records are absorbed.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	id "aegis/pkg/domain"
	audit "aegis/pkg/platform/audit"
)

var (
	eventPrefix = []byte("audit/event/")
	idPrefix    = []byte("audit/id/")
	headKey     = []byte("audit/head")
)

type head struct {
	Seq  uint64 `json:"seq"`
	Hash string `json:"hash"`
}

// Store is a durable chained audit store.
type Store struct {
	db *badger.DB
	// Appends are serialized so the chain never forks. Badger transactions
	// would also catch it as a conflict, but retrying a hash chain is pointless.
	mu sync.Mutex
}

// Open opens (or creates) the audit log at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory is for tests.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory audit log: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func eventKey(seq uint64) []byte {
	k := make([]byte, len(eventPrefix)+8)
	copy(k, eventPrefix)
	binary.BigEndian.PutUint64(k[len(eventPrefix):], seq)
	return k
}

func idKey(eventID string) []byte {
	return append(append([]byte{}, idPrefix...), eventID...)
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if event.ID != "" {
			_, err := txn.Get(idKey(event.ID))
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("check audit event id: %w", err)
			}
		}
		h, err := readHead(txn)
		if err != nil {
			return err
		}
		sealed, err := audit.Seal(h.Hash, event)
		if err != nil {
			return err
		}
		value, err := json.Marshal(sealed)
		if err != nil {
			return fmt.Errorf("encode audit event: %w", err)
		}
		next := head{Seq: h.Seq + 1, Hash: sealed.Hash}
		if err := txn.Set(eventKey(next.Seq), value); err != nil {
			return fmt.Errorf("write audit event: %w", err)
		}
		if event.ID != "" {
			if err := txn.Set(idKey(event.ID), eventKey(next.Seq)); err != nil {
				return fmt.Errorf("index audit event: %w", err)
			}
		}
		headValue, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return txn.Set(headKey, headValue)
	})
}

func readHead(txn *badger.Txn) (head, error) {
	item, err := txn.Get(headKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return head{Hash: audit.GenesisHash}, nil
	}
	if err != nil {
		return head{}, fmt.Errorf("read audit head: %w", err)
	}
	var h head
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &h)
	})
	return h, err
}

// ListAll returns every event in append order.
func (s *Store) ListAll(_ context.Context) ([]audit.Event, error) {
	return s.scan(func(audit.Event) bool { return true })
}

func (s *Store) ListBySubject(_ context.Context, subjectID id.SubjectID) ([]audit.Event, error) {
	return s.scan(func(e audit.Event) bool { return e.SubjectID == subjectID })
}

func (s *Store) scan(keep func(audit.Event) bool) ([]audit.Event, error) {
	var events []audit.Event
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(eventPrefix); it.ValidForPrefix(eventPrefix); it.Next() {
			var e audit.Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode audit event: %w", err)
			}
			if keep(e) {
				events = append(events, e)
			}
		}
		return nil
	})
	return events, err
}

// Verify re-checks the whole chain.
func (s *Store) Verify(ctx context.Context) error {
	events, err := s.ListAll(ctx)
	if err != nil {
		return err
	}
	return audit.VerifyChain(events)
}
