package service

import (
	"context"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// History page sizes.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryServiceImpl implements ports.HistoryService.
type HistoryServiceImpl struct {
	accounts  ports.AccountRepository
	transfers ports.TransferLog
}

// NewHistoryService creates a new HistoryServiceImpl.
func NewHistoryService(accounts ports.AccountRepository, transfers ports.TransferLog) *HistoryServiceImpl {
	return &HistoryServiceImpl{accounts: accounts, transfers: transfers}
}

// GetTransferHistory returns one page of the account's transfers in
// ascending (created_at, id) order. cursor is the NextCursor of the
// previous page, empty for the first page.
func (s *HistoryServiceImpl) GetTransferHistory(ctx context.Context, accountID, cursor string, limit int) (*domain.HistoryPage, error) {
	accountID = domain.NormalizeAccountID(accountID)
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, storageErr("get account", err)
	}
	if account == nil {
		return nil, apperror.ErrAccountNotFound(accountID)
	}

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	q := ports.HistoryQuery{AccountID: accountID, Limit: limit + 1}
	if cursor != "" {
		after, err := domain.DecodeHistoryCursor(cursor)
		if err != nil {
			return nil, apperror.Validation("invalid cursor")
		}
		q.After = after
	}

	records, err := s.transfers.ListByAccount(ctx, q)
	if err != nil {
		return nil, storageErr("list transfers", err)
	}

	page := &domain.HistoryPage{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		page.NextCursor = domain.CursorFor(&page.Records[limit-1]).Encode()
	}
	return page, nil
}

// GetTransfer returns a single record.
func (s *HistoryServiceImpl) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.TransferRecord, error) {
	rec, err := s.transfers.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get transfer", err)
	}
	if rec == nil {
		return nil, apperror.ErrTransferNotFound(id.String())
	}
	return rec, nil
}
