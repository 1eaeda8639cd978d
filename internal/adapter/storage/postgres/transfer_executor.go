package postgres

import (
	"context"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransferExecutor implements ports.AtomicTransferExecutor. The record
// insert, both balance updates and the finalization share one transaction,
// so no observer sees a pending record or a half-applied transfer.
type TransferExecutor struct {
	tx  *Transactor
	now func() time.Time
}

// NewTransferExecutor creates a new TransferExecutor.
func NewTransferExecutor(pool Pool) *TransferExecutor {
	return &TransferExecutor{
		tx:  NewTransactor(pool),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteTransfer records and applies rec. Business failures (funds,
// account status) still commit, with the record FAILED and balances
// untouched. rec is only updated once the transaction has committed.
func (e *TransferExecutor) ExecuteTransfer(ctx context.Context, rec *domain.TransferRecord) error {
	work := *rec

	err := e.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := insertTransfer(ctx, tx, &work); err != nil {
			return err
		}

		reason, err := e.move(ctx, tx, &work)
		if err != nil {
			return err
		}

		if reason == "" {
			work.Finalize(domain.TransferStatusCommitted, "", e.now())
		} else {
			work.Finalize(domain.TransferStatusFailed, reason, e.now())
		}
		return finalizeTransfer(ctx, tx, &work)
	})
	if err != nil {
		return err
	}

	*rec = work
	return nil
}

// move locks both parties and both balances in key order, then applies the
// debit and credit. It returns a failure reason for business rejections and
// an error only for storage faults.
func (e *TransferExecutor) move(ctx context.Context, tx pgx.Tx, rec *domain.TransferRecord) (domain.FailureReason, error) {
	senderKey, recipientKey := rec.Keys()
	first, second := domain.OrderedKeys(senderKey, recipientKey)

	for _, key := range []domain.BalanceKey{first, second} {
		if err := lockAccount(ctx, tx, key.AccountID); err != nil {
			switch apperror.Code(err) {
			case apperror.CodeUnknownAccount:
				return domain.ReasonUnknownAccount, nil
			case apperror.CodeAccountUnavailable:
				return domain.ReasonAccountUnavailable, nil
			}
			return "", err
		}
	}

	balances := make(map[domain.BalanceKey]decimal.Decimal, 2)
	found := make(map[domain.BalanceKey]bool, 2)
	for _, key := range []domain.BalanceKey{first, second} {
		amount, ok, err := lockBalance(ctx, tx, key.AccountID, key.Currency)
		if err != nil {
			return "", err
		}
		balances[key], found[key] = amount, ok
	}

	remaining := balances[senderKey].Sub(rec.Amount)
	if !found[senderKey] || remaining.IsNegative() {
		return domain.ReasonInsufficientFunds, nil
	}

	if err := updateBalance(ctx, tx, senderKey.AccountID, senderKey.Currency, remaining); err != nil {
		return "", err
	}
	if found[recipientKey] {
		return "", updateBalance(ctx, tx, recipientKey.AccountID, recipientKey.Currency, balances[recipientKey].Add(rec.Amount))
	}
	_, err := creditBalance(ctx, tx, recipientKey.AccountID, recipientKey.Currency, rec.Amount)
	return "", err
}
