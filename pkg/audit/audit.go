// Package audit provides a durable, append-only record of every
// grant/revoke/expand request the engine processes: who asked, what
// they asked for, and what the answer was.
//
// This is a compliance concern orthogonal to the graph's own state.
// The graph is an in-memory structure recovered from periodic text
// snapshots; the audit trail is a persistent ledger of requests,
// stored through BadgerDB so a record survives even a crash between
// snapshots. Records are immutable once written: there is no Update or
// Delete, only Log and the read-side Query.
//
// Example Usage:
//
//	ledger, err := audit.NewLedger(audit.Config{Enabled: true, Dir: "./data/audit"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ledger.Close()
//
//	ledger.Log(audit.Event{
//		Type:      audit.EventGrant,
//		Principal: "user:alice",
//		Object:    "document:report1#write",
//		Success:   true,
//	})
//
//	report, _ := ledger.Query(audit.Query{Principal: "user:alice"})
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// EventType categorizes one audit record.
type EventType string

const (
	EventGrant  EventType = "GRANT"
	EventRevoke EventType = "REVOKE"
	EventCheck  EventType = "CHECK"
	EventExpand EventType = "EXPAND"
	EventLogin  EventType = "LOGIN"
	EventDenied EventType = "ACCESS_DENIED"
)

// Event is one immutable audit record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Principal is the string form of the caller, e.g. "user:alice".
	Principal string `json:"principal,omitempty"`
	// Object is the string form of the affected Set, e.g.
	// "document:report1#write".
	Object string `json:"object,omitempty"`
	// Source is populated for grant/revoke records: the string form of
	// the inserted edge's source (Object or Set).
	Source string `json:"source,omitempty"`

	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`

	RemoteAddr string `json:"remote_addr,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Config configures the audit ledger.
type Config struct {
	// Enabled controls whether Log actually persists anything. A
	// disabled ledger accepts every call as a silent no-op, so callers
	// never need to branch on whether auditing is turned on.
	Enabled bool
	// Dir is the BadgerDB data directory.
	Dir string
	// RetentionDays bounds how long records are kept; Prune deletes
	// anything older. 0 means indefinite retention.
	RetentionDays int
}

// Ledger persists audit events to BadgerDB in append-only fashion,
// keyed so that a full scan yields chronological order.
type Ledger struct {
	db       *badger.DB
	config   Config
	mu       sync.Mutex
	sequence uint64
}

// NewLedger opens (or creates) the audit ledger at config.Dir. If
// config.Enabled is false, NewLedger returns a Ledger that never opens
// a database and discards every event.
func NewLedger(config Config) (*Ledger, error) {
	if !config.Enabled {
		return &Ledger{config: config}, nil
	}

	opts := badger.DefaultOptions(config.Dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: open badger store at %s: %w", config.Dir, err)
	}
	return &Ledger{db: db, config: config}, nil
}

// Close releases the underlying BadgerDB handle.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// eventKey orders records chronologically: an 8-byte big-endian Unix
// nanosecond timestamp followed by an 8-byte sequence number, so
// concurrent events in the same nanosecond still sort deterministically
// and a prefix scan over the whole keyspace visits events in order.
func eventKey(ts time.Time, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

// Log persists event, stamping Timestamp with the current time if
// unset. A disabled ledger discards the event and returns nil.
func (l *Ledger) Log(event Event) error {
	if !l.config.Enabled {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.sequence++
	seq := l.sequence
	l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(event.Timestamp, seq), data)
	})
}

// Query filters the ledger.
type Query struct {
	Start     time.Time
	End       time.Time
	Type      EventType
	Principal string
	Limit     int
}

// Query scans the ledger in chronological order, applying filters, and
// returns at most Limit matching events (0 means unlimited).
func (l *Ledger) Query(q Query) ([]Event, error) {
	if !l.config.Enabled {
		return nil, nil
	}

	var results []Event
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var event Event
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			}); err != nil {
				continue
			}

			if !q.Start.IsZero() && event.Timestamp.Before(q.Start) {
				continue
			}
			if !q.End.IsZero() && event.Timestamp.After(q.End) {
				continue
			}
			if q.Type != "" && event.Type != q.Type {
				continue
			}
			if q.Principal != "" && event.Principal != q.Principal {
				continue
			}

			results = append(results, event)
			if q.Limit > 0 && len(results) >= q.Limit {
				break
			}
		}
		return nil
	})
	return results, err
}

// Prune deletes records older than config.RetentionDays. It is a no-op
// if RetentionDays is 0 or the ledger is disabled.
func (l *Ledger) Prune() error {
	if !l.config.Enabled || l.config.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -l.config.RetentionDays)
	cutoffKey := eventKey(cutoff, 0)

	return l.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= string(cutoffKey) {
				break
			}
			stale = append(stale, key)
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
