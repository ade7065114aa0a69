package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

const keyPrefix = "report/"

var errKeyExists = errors.New("record key already exists")

// BadgerStore is an embedded store. Keys are
// report/<agent>/<date>/<unix nanos>-<uuid>, so a reverse prefix scan yields
// the List order directly.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

type BadgerOptions struct {
	Dir string
	// InMemory keeps everything in memory; Dir is ignored.
	InMemory bool
}

func NewBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger store needs a directory")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger.New().WithField("component", "badger")})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

func agentPrefix(agent string) []byte {
	return []byte(keyPrefix + url.PathEscape(agent) + "/")
}

func (s *BadgerStore) key(agent, date string, at time.Time) []byte {
	return fmt.Appendf(agentPrefix(agent), "%s/%020d-%s", url.PathEscape(date), at.UnixNano(), uuid.NewString())
}

func encodeRecord(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (Record, error) {
	var rec Record
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	err := dec.Decode(&rec)
	return rec, err
}

func (s *BadgerStore) Save(ctx context.Context, agent, date, file string, report types.AuditReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkDate(date); err != nil {
		return err
	}
	rec := Record{AgentName: agent, Date: date, FileName: file, Report: report, CreatedAt: s.now().UTC()}
	val, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	k := s.key(agent, date, rec.CreatedAt)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err == nil {
			return errKeyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, val)
	})
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (s *BadgerStore) List(ctx context.Context, agent string) ([]Record, error) {
	prefix := agentPrefix(agent)
	out := []Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.Reverse = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		seek := append(bytes.Clone(prefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeRecord(val)
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) DeleteAgent(ctx context.Context, agent string) (int64, error) {
	prefix := agentPrefix(agent)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan reports: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("delete reports: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("delete reports: %w", err)
	}
	return int64(len(keys)), nil
}

func (s *BadgerStore) Close(context.Context) error {
	return s.db.Close()
}

// badgerLogger routes badger output through logrus; badger's info chatter
// goes to debug.
type badgerLogger struct {
	entry *logrus.Entry
}

func (l badgerLogger) Errorf(f string, v ...any)   { l.entry.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...any) { l.entry.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...any)    { l.entry.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...any)   { l.entry.Tracef(f, v...) }
