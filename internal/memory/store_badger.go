package memory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"docchat-backend/internal/shared/telemetry"
)

const (
	sessionPrefix = "sess/"
	messagePrefix = "msg/"

	maxConflictRetries = 5
)

// BadgerStore keeps session logs in BadgerDB. Each session has a header key
// holding the next sequence number and one key per message, ordered by a
// big-endian sequence suffix.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Info(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBadger opens a BadgerStore at dir, or an in-memory one when inMemory is set.
func OpenBadger(dir string, inMemory bool) (*BadgerStore, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: telemetry.Logger()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

func messageKeyPrefix(id string) []byte {
	return []byte(messagePrefix + id + "/")
}

func messageKey(id string, seq uint64) []byte {
	prefix := messageKeyPrefix(id)
	buf := make([]byte, len(prefix)+8)
	n := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[n:], seq)
	return buf
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(tx *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func readSeq(tx *badger.Txn, sessionID string) (uint64, error) {
	item, err := tx.Get(sessionKey(sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt session header for %s", sessionID)
		}
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

func writeSeq(tx *badger.Txn, sessionID string, seq uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return tx.Set(sessionKey(sessionID), buf)
}

func (s *BadgerStore) Create(ctx context.Context, sessionID string) error {
	if !validSessionID(sessionID) {
		return ErrSessionNotFound
	}
	return s.update(ctx, func(tx *badger.Txn) error {
		_, err := readSeq(tx, sessionID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return err
		}
		return writeSeq(tx, sessionID, 0)
	})
}

func (s *BadgerStore) Append(ctx context.Context, sessionID string, msgs ...Message) error {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	if !validSessionID(sessionID) {
		return ErrSessionNotFound
	}
	return s.update(ctx, func(tx *badger.Txn) error {
		seq, err := readSeq(tx, sessionID)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.CreatedAt.IsZero() {
				m.CreatedAt = s.now()
			}
			val, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("encode message: %w", err)
			}
			if err := tx.Set(messageKey(sessionID, seq), val); err != nil {
				return err
			}
			seq++
		}
		return writeSeq(tx, sessionID, seq)
	})
}

func (s *BadgerStore) List(ctx context.Context, sessionID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validSessionID(sessionID) {
		return nil, ErrSessionNotFound
	}
	var out []Message
	err := s.db.View(func(tx *badger.Txn) error {
		if _, err := readSeq(tx, sessionID); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = messageKeyPrefix(sessionID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		out = make([]Message, 0)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			var m Message
			if err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Window(ctx context.Context, sessionID string, n int) ([]Message, error) {
	msgs, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return window(msgs, n), nil
}

// DeleteSession drops the header and every message of a session.
func (s *BadgerStore) DeleteSession(ctx context.Context, sessionID string) error {
	if !validSessionID(sessionID) {
		return nil
	}
	return s.update(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = messageKeyPrefix(sessionID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		var keys [][]byte
		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		iter.Close()

		for _, k := range keys {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		return tx.Delete(sessionKey(sessionID))
	})
}

// Ping reports whether the store still accepts transactions.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("memory: badger store closed")
	}
	return ctx.Err()
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
