package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	_ ports.AccountRepository = (*AccountRepo)(nil)
	_ ports.LedgerStore       = (*Ledger)(nil)
	_ ports.TransferLog       = (*TransferLog)(nil)
	_ ports.AuditRepository   = (*AuditRepo)(nil)
)

func newAccount(id string) *domain.Account {
	now := time.Now().UTC()
	return &domain.Account{
		ID: id, Username: id, Email: id + "@example.com",
		Status: domain.AccountStatusActive, CreatedAt: now, UpdatedAt: now,
	}
}

func newLedgerWith(t *testing.T, ids ...string) (*AccountRepo, *Ledger) {
	t.Helper()
	accounts := NewAccountRepo()
	for _, id := range ids {
		require.NoError(t, accounts.Create(context.Background(), newAccount(id)))
	}
	return accounts, NewLedger(accounts)
}

func TestAccountRepo_CreateAndGet(t *testing.T) {
	repo := NewAccountRepo()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newAccount("alice")))
	err := repo.Create(ctx, newAccount("alice"))
	assert.True(t, apperror.Is(err, apperror.CodeDuplicateAccount))

	a, err := repo.GetByID(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "alice@example.com", a.Email)

	missing, err := repo.GetByID(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAccountRepo_UpdateStatus(t *testing.T) {
	repo := NewAccountRepo()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newAccount("alice")))

	require.NoError(t, repo.UpdateStatus(ctx, "alice", domain.AccountStatusFrozen, time.Now()))
	a, _ := repo.GetByID(ctx, "alice")
	assert.Equal(t, domain.AccountStatusFrozen, a.Status)

	err := repo.UpdateStatus(ctx, "ghost", domain.AccountStatusClosed, time.Now())
	assert.True(t, apperror.Is(err, apperror.CodeAccountNotFound))
}

func TestAccountRepo_GetReturnsCopy(t *testing.T) {
	repo := NewAccountRepo()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newAccount("alice")))

	a, _ := repo.GetByID(ctx, "alice")
	a.Status = domain.AccountStatusClosed

	again, _ := repo.GetByID(ctx, "alice")
	assert.Equal(t, domain.AccountStatusActive, again.Status)
}

func TestLedger_ApplyDelta(t *testing.T) {
	_, ledger := newLedgerWith(t, "alice")
	ctx := context.Background()

	amount, err := ledger.ApplyDelta(ctx, "alice", "USD", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "100", amount.String())

	amount, err = ledger.ApplyDelta(ctx, "alice", "USD", decimal.NewFromInt(-30))
	require.NoError(t, err)
	assert.Equal(t, "70", amount.String())

	_, err = ledger.ApplyDelta(ctx, "alice", "USD", decimal.NewFromInt(-71))
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientFunds))

	current, err := ledger.GetBalance(ctx, "alice", "USD")
	require.NoError(t, err)
	assert.Equal(t, "70", current.String(), "failed delta leaves balance unchanged")
}

func TestLedger_ApplyDelta_Rejections(t *testing.T) {
	accounts, ledger := newLedgerWith(t, "alice")
	ctx := context.Background()

	_, err := ledger.ApplyDelta(ctx, "ghost", "USD", decimal.NewFromInt(1))
	assert.True(t, apperror.Is(err, apperror.CodeUnknownAccount))

	_, err = ledger.ApplyDelta(ctx, "alice", "BTC", decimal.NewFromInt(-1))
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientFunds))

	require.NoError(t, accounts.UpdateStatus(ctx, "alice", domain.AccountStatusClosed, time.Now()))
	_, err = ledger.ApplyDelta(ctx, "alice", "USD", decimal.NewFromInt(1))
	assert.True(t, apperror.Is(err, apperror.CodeAccountUnavailable))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ledger.ApplyDelta(cancelled, "alice", "USD", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAccountRepo_Delete(t *testing.T) {
	repo := NewAccountRepo()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newAccount("alice")))

	require.NoError(t, repo.Delete(ctx, "alice"))
	require.NoError(t, repo.Delete(ctx, "alice"), "deleting a missing id is a no-op")

	a, err := repo.GetByID(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, repo.Create(ctx, newAccount("alice")), "the id can be registered again")
}

func TestLedger_Reverse_IgnoresStatus(t *testing.T) {
	accounts, ledger := newLedgerWith(t, "alice")
	ctx := context.Background()
	_, err := ledger.CreateWallet(ctx, "alice", "USD", decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = ledger.ApplyDelta(ctx, "alice", "USD", decimal.NewFromInt(-30))
	require.NoError(t, err)

	for _, status := range []domain.AccountStatus{domain.AccountStatusFrozen, domain.AccountStatusClosed} {
		require.NoError(t, accounts.UpdateStatus(ctx, "alice", status, time.Now()))
		_, err = ledger.ApplyDelta(ctx, "alice", "USD", decimal.NewFromInt(1))
		assert.True(t, apperror.Is(err, apperror.CodeAccountUnavailable), status)
	}

	amount, err := ledger.Reverse(ctx, "alice", "USD", decimal.NewFromInt(30))
	require.NoError(t, err)
	assert.Equal(t, "100", amount.String())

	_, err = ledger.Reverse(ctx, "ghost", "USD", decimal.NewFromInt(1))
	assert.True(t, apperror.Is(err, apperror.CodeUnknownAccount))

	_, err = ledger.Reverse(ctx, "alice", "USD", decimal.NewFromInt(-1))
	assert.True(t, apperror.Is(err, apperror.CodeInvalidAmount))
}

func TestLedger_NoCreditLandsAfterClose(t *testing.T) {
	accounts, ledger := newLedgerWith(t, "bob")
	ctx := context.Background()

	stop := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				_, err := ledger.ApplyDelta(ctx, "bob", "USD", decimal.NewFromInt(1))
				if err != nil && !apperror.Is(err, apperror.CodeAccountUnavailable) {
					return err
				}
			}
		})
	}

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, accounts.UpdateStatus(ctx, "bob", domain.AccountStatusClosed, time.Now()))
	atClose, err := ledger.GetBalance(ctx, "bob", "USD")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	close(stop)
	require.NoError(t, g.Wait())

	final, err := ledger.GetBalance(ctx, "bob", "USD")
	require.NoError(t, err)
	assert.True(t, final.Equal(atClose), "credit applied after close: %s then %s", atClose, final)
}

func TestLedger_ConcurrentDebitsNeverOverspend(t *testing.T) {
	_, ledger := newLedgerWith(t, "alice")
	ctx := context.Background()
	_, err := ledger.CreateWallet(ctx, "alice", "USD", decimal.NewFromInt(50))
	require.NoError(t, err)

	var succeeded atomic.Int64
	var g errgroup.Group
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			_, err := ledger.ApplyDelta(ctx, "alice", "USD", decimal.NewFromInt(-1))
			if err == nil {
				succeeded.Add(1)
				return nil
			}
			if apperror.Is(err, apperror.CodeInsufficientFunds) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(50), succeeded.Load())
	final, _ := ledger.GetBalance(ctx, "alice", "USD")
	assert.True(t, final.IsZero())
}

func TestLedger_CreateWalletAndList(t *testing.T) {
	_, ledger := newLedgerWith(t, "alice")
	ctx := context.Background()

	_, err := ledger.CreateWallet(ctx, "alice", "USD", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = ledger.CreateWallet(ctx, "alice", "BTC", decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	_, err = ledger.CreateWallet(ctx, "alice", "USD", decimal.Zero)
	assert.True(t, apperror.Is(err, apperror.CodeWalletExists))

	_, err = ledger.CreateWallet(ctx, "ghost", "USD", decimal.Zero)
	assert.True(t, apperror.Is(err, apperror.CodeUnknownAccount))

	balances, err := ledger.ListBalances(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "BTC", balances[0].Currency)
	assert.Equal(t, "USD", balances[1].Currency)
}

func TestTransferLog_AppendIsWriteOnce(t *testing.T) {
	log := NewTransferLog()
	ctx := context.Background()
	rec := domain.NewTransferRecord("alice", "bob", "USD", decimal.NewFromInt(30), "alice:k1", time.Now())

	require.NoError(t, log.Append(ctx, rec))
	err := log.Append(ctx, rec)
	assert.True(t, apperror.Is(err, apperror.CodeDuplicateRecord))

	sameKey := domain.NewTransferRecord("alice", "bob", "USD", decimal.NewFromInt(30), "alice:k1", time.Now())
	err = log.Append(ctx, sameKey)
	assert.True(t, apperror.Is(err, apperror.CodeDuplicateRecord))

	byKey, err := log.GetByIdempotencyKey(ctx, "alice:k1")
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, rec.ID, byKey.ID)
}

func TestTransferLog_FinalizeOnce(t *testing.T) {
	log := NewTransferLog()
	ctx := context.Background()
	rec := domain.NewTransferRecord("alice", "bob", "USD", decimal.NewFromInt(30), "", time.Now())
	require.NoError(t, log.Append(ctx, rec))

	final := *rec
	final.Finalize(domain.TransferStatusCommitted, "", time.Now())
	require.NoError(t, log.Finalize(ctx, &final))

	again := *rec
	again.Finalize(domain.TransferStatusFailed, domain.ReasonCancelled, time.Now())
	err := log.Finalize(ctx, &again)
	assert.True(t, apperror.Is(err, apperror.CodeRecordFinalized))

	stored, _ := log.GetByID(ctx, rec.ID)
	assert.Equal(t, domain.TransferStatusCommitted, stored.Status)

	unknown := domain.NewTransferRecord("alice", "bob", "USD", decimal.NewFromInt(1), "", time.Now())
	unknown.Finalize(domain.TransferStatusCommitted, "", time.Now())
	err = log.Finalize(ctx, unknown)
	assert.True(t, apperror.Is(err, apperror.CodeTransferNotFound))
}

func TestTransferLog_ListByAccount(t *testing.T) {
	log := NewTransferLog()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 4; i >= 0; i-- {
		rec := domain.NewTransferRecord("alice", "bob", "USD", decimal.NewFromInt(int64(i+1)), "", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, log.Append(ctx, rec))
		ids = append([]uuid.UUID{rec.ID}, ids...)
	}
	other := domain.NewTransferRecord("carol", "dave", "USD", decimal.NewFromInt(1), "", base)
	require.NoError(t, log.Append(ctx, other))

	page, err := log.ListByAccount(ctx, ports.HistoryQuery{AccountID: "bob", Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	for i := range page {
		assert.Equal(t, ids[i], page[i].ID, "ascending by created_at")
	}

	cursor := domain.CursorFor(&page[2])
	rest, err := log.ListByAccount(ctx, ports.HistoryQuery{AccountID: "bob", After: &cursor, Limit: 3})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, ids[3], rest[0].ID)
	assert.Equal(t, ids[4], rest[1].ID)

	none, err := log.ListByAccount(ctx, ports.HistoryQuery{AccountID: "erin", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditRepo_Create(t *testing.T) {
	repo := NewAuditRepo()
	require.NoError(t, repo.Create(context.Background(), &domain.AuditLog{Action: domain.AuditActionDeposit}))
	entries := repo.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionDeposit, entries[0].Action)
}
