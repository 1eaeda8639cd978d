package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// TransferLog implements ports.TransferLog. Records are stored by value so
// callers never share memory with the log.
type TransferLog struct {
	mu      sync.RWMutex
	records map[uuid.UUID]domain.TransferRecord
	byKey   map[string]uuid.UUID
}

// NewTransferLog creates an empty TransferLog.
func NewTransferLog() *TransferLog {
	return &TransferLog{
		records: make(map[uuid.UUID]domain.TransferRecord),
		byKey:   make(map[string]uuid.UUID),
	}
}

// Append stores a new record. Both the id and the idempotency key are unique.
func (l *TransferLog) Append(ctx context.Context, rec *domain.TransferRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[rec.ID]; ok {
		return apperror.ErrDuplicateRecord(rec.ID.String())
	}
	if rec.IdempotencyKey != "" {
		if _, ok := l.byKey[rec.IdempotencyKey]; ok {
			return apperror.ErrDuplicateRecord(rec.ID.String())
		}
		l.byKey[rec.IdempotencyKey] = rec.ID
	}
	l.records[rec.ID] = *rec
	return nil
}

// Finalize stores the terminal state of a pending record.
func (l *TransferLog) Finalize(ctx context.Context, rec *domain.TransferRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.records[rec.ID]
	if !ok {
		return apperror.ErrTransferNotFound(rec.ID.String())
	}
	if !stored.Finalize(rec.Status, rec.Reason, finalizedAt(rec)) {
		return apperror.ErrRecordFinalized(rec.ID.String())
	}
	l.records[rec.ID] = stored
	return nil
}

// GetByID returns a copy of the record, or nil, nil.
func (l *TransferLog) GetByID(ctx context.Context, id uuid.UUID) (*domain.TransferRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// GetByIdempotencyKey returns the record created under key, or nil, nil.
func (l *TransferLog) GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransferRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byKey[key]
	if !ok {
		return nil, nil
	}
	rec := l.records[id]
	return &rec, nil
}

// ListByAccount returns records touching the account in (created_at, id)
// order, strictly after q.After, at most q.Limit of them.
func (l *TransferLog) ListByAccount(ctx context.Context, q ports.HistoryQuery) ([]domain.TransferRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	records := []domain.TransferRecord{}
	for _, rec := range l.records {
		if !rec.Touches(q.AccountID) {
			continue
		}
		if q.After != nil && !q.After.After(&rec) {
			continue
		}
		records = append(records, rec)
	}
	l.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	return records, nil
}

func finalizedAt(rec *domain.TransferRecord) time.Time {
	if rec.FinalizedAt != nil {
		return *rec.FinalizedAt
	}
	return time.Now().UTC()
}
