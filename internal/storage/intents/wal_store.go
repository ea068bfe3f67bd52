// Package intents journals order attempts in a WAL so that an order placed without a matching
// order record (process died in between) is still visible after restart.
package intents

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/krakendca/internal/domain"
)

const (
	defaultJournalDir    = "./wal/intents"
	journalSegmentLimit  = 1000
	journalMaxSegments   = 100
	journalDirPermission = 0o755
	intentKeyPrefix      = "order_intent_"
)

// Status is the lifecycle state of an intent.
type Status string

const (
	StatusPending  Status = "pending"
	StatusDone     Status = "done"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"

	// StatusUnrecorded marks an order the exchange answered but whose order record was not written.
	StatusUnrecorded Status = "unrecorded"
)

// Record is one journaled order attempt.
type Record struct {
	ID     string          `json:"id"`
	Status Status          `json:"status"`
	Batch  int64           `json:"batch"`
	Pair   string          `json:"pair"`
	DryRun bool            `json:"dry_run"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Time   time.Time       `json:"time"`
	Order  string          `json:"order,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WALStore is a gowal-backed intent journal. The latest entry per intent id wins on replay.
type WALStore struct {
	wal   *gowal.Wal
	mu    sync.Mutex
	order []string
	index map[string]*Record
	now   func() time.Time
}

// NewWALStore opens (or creates) the journal under dir and replays existing entries.
func NewWALStore(l *zap.Logger, dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultJournalDir
	}
	if err := os.MkdirAll(dir, journalDirPermission); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure journal directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "intent_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init intent journal WAL")
	}

	s := &WALStore{
		wal:   wal,
		index: make(map[string]*Record),
		now:   time.Now,
	}

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, intentKeyPrefix) {
			continue
		}
		var rec Record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			l.Error("failed to unmarshal order intent", zap.Error(err), zap.String("key", msg.Key))
			continue
		}
		s.remember(&rec)
	}

	return s, nil
}

// Prepare journals a pending intent before the order is sent.
func (s *WALStore) Prepare(batch int64, intent domain.OrderIntent) (*Record, error) {
	rec := &Record{
		ID:     uuid.New().String(),
		Status: StatusPending,
		Batch:  batch,
		Pair:   intent.Pair,
		DryRun: intent.DryRun,
		Amount: intent.Amount,
		Price:  intent.Price,
		Volume: intent.Volume,
		Time:   s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(rec); err != nil {
		return nil, err
	}
	s.remember(rec)

	return rec, nil
}

// MarkDone closes an intent with the exchange reply. A rejected order is closed as rejected.
func (s *WALStore) MarkDone(rec *Record, reply domain.OrderReply) error {
	if rec == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Status = StatusDone
	rec.Order = reply.Order
	rec.Error = ""
	if reply.Failed() {
		rec.Status = StatusRejected
		rec.Error = strings.Join(reply.Errors, ", ")
	}

	return s.persist(rec)
}

// MarkFailed closes an intent whose order call failed before a reply was received.
func (s *WALStore) MarkFailed(rec *Record, cause error) error {
	if rec == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Status = StatusFailed
	if cause != nil {
		rec.Error = cause.Error()
	}

	return s.persist(rec)
}

// MarkUnrecorded closes an intent whose order was placed but could not be recorded.
// It stays in Pending until an operator reconciles it.
func (s *WALStore) MarkUnrecorded(rec *Record, reply domain.OrderReply, cause error) error {
	if rec == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Status = StatusUnrecorded
	rec.Order = reply.Order
	rec.Error = strings.Join(reply.Errors, ", ")
	if cause != nil {
		rec.Error = cause.Error()
	}

	return s.persist(rec)
}

// Pending returns intents that need reconciliation, oldest first: never closed or placed without a record.
func (s *WALStore) Pending() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0)
	for _, id := range s.order {
		if rec := s.index[id]; rec.Status == StatusPending || rec.Status == StatusUnrecorded {
			out = append(out, *rec)
		}
	}

	return out
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("intent journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

func (s *WALStore) remember(rec *Record) {
	if _, ok := s.index[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.index[rec.ID] = rec
}

func (s *WALStore) persist(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order intent")
	}

	key := fmt.Sprintf("%s%s", intentKeyPrefix, rec.ID)
	nextIndex := s.wal.CurrentIndex() + 1

	return errors.Wrap(s.wal.Write(nextIndex, key, data), "failed to write order intent")
}
