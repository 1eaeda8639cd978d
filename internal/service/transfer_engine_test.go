package service_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"exchange-ledger/internal/adapter/storage/memory"
	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/internal/service"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type engine struct {
	accounts  *memory.AccountRepo
	ledger    *memory.Ledger
	transfers *memory.TransferLog
	registry  *service.AccountServiceImpl
	svc       *service.TransferServiceImpl
}

func newEngine(t *testing.T, wrap func(*memory.AccountRepo, ports.LedgerStore) ports.LedgerStore) *engine {
	t.Helper()
	e := &engine{
		accounts:  memory.NewAccountRepo(),
		transfers: memory.NewTransferLog(),
	}
	e.ledger = memory.NewLedger(e.accounts)

	var store ports.LedgerStore = e.ledger
	if wrap != nil {
		store = wrap(e.accounts, e.ledger)
	}

	log := zerolog.Nop()
	usd := domain.Currency{Code: "USD", Scale: 2}
	e.registry = service.NewAccountService(e.accounts, e.ledger, usd, log)
	e.svc = service.NewTransferService(e.accounts, store, e.transfers,
		domain.NewCurrencies(map[string]int32{"USD": 2}), log,
		service.WithRetryPolicy(service.RetryPolicy{
			MaxRetries:             2,
			CompensationMaxRetries: 5,
			InitialInterval:        time.Millisecond,
		}),
	)
	return e
}

func (e *engine) register(t *testing.T, id, balance string) {
	t.Helper()
	_, err := e.registry.Register(context.Background(), ports.RegisterAccountRequest{
		ID:          id,
		Username:    id + "_user",
		Email:       id + "@example.com",
		FiatBalance: decimal.RequireFromString(balance),
	})
	require.NoError(t, err)
}

func (e *engine) balance(t *testing.T, id string) string {
	t.Helper()
	amount, err := e.ledger.GetBalance(context.Background(), id, "USD")
	require.NoError(t, err)
	return amount.String()
}

func (e *engine) transfer(ctx context.Context, from, to, amount string) (*domain.TransferRecord, error) {
	return e.svc.Transfer(ctx, ports.TransferRequest{
		SenderID:    from,
		RecipientID: to,
		Currency:    "USD",
		Amount:      decimal.RequireFromString(amount),
	})
}

// statusChangingLedger applies status changes right after the first debit
// succeeds, between the debit and the credit of a transfer.
type statusChangingLedger struct {
	ports.LedgerStore
	accounts *memory.AccountRepo
	changes  map[string]domain.AccountStatus
	once     atomic.Bool
}

func (l *statusChangingLedger) ApplyDelta(ctx context.Context, accountID, currency string, delta decimal.Decimal) (decimal.Decimal, error) {
	amount, err := l.LedgerStore.ApplyDelta(ctx, accountID, currency, delta)
	if err == nil && delta.IsNegative() && l.once.CompareAndSwap(false, true) {
		for id, status := range l.changes {
			if uerr := l.accounts.UpdateStatus(ctx, id, status, time.Now()); uerr != nil {
				return amount, uerr
			}
		}
	}
	return amount, err
}

func changeAfterDebit(changes map[string]domain.AccountStatus) func(*memory.AccountRepo, ports.LedgerStore) ports.LedgerStore {
	return func(accounts *memory.AccountRepo, store ports.LedgerStore) ports.LedgerStore {
		return &statusChangingLedger{LedgerStore: store, accounts: accounts, changes: changes}
	}
}

func TestEngine_Commit(t *testing.T) {
	e := newEngine(t, nil)
	e.register(t, "alice", "100")
	e.register(t, "bob", "0")

	rec, err := e.transfer(context.Background(), "alice", "bob", "30")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCommitted, rec.Status)
	assert.Equal(t, "70", e.balance(t, "alice"))
	assert.Equal(t, "30", e.balance(t, "bob"))

	stored, err := e.transfers.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCommitted, stored.Status)
}

func TestEngine_InsufficientFunds(t *testing.T) {
	e := newEngine(t, nil)
	e.register(t, "alice", "100")
	e.register(t, "bob", "0")

	rec, err := e.transfer(context.Background(), "alice", "bob", "1000")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusFailed, rec.Status)
	assert.Equal(t, domain.ReasonInsufficientFunds, rec.Reason)
	assert.Equal(t, "100", e.balance(t, "alice"))
	assert.Equal(t, "0", e.balance(t, "bob"))
}

func TestEngine_RecipientClosedMidFlight(t *testing.T) {
	e := newEngine(t, changeAfterDebit(map[string]domain.AccountStatus{"bob": domain.AccountStatusClosed}))
	e.register(t, "alice", "100")
	e.register(t, "bob", "0")

	rec, err := e.transfer(context.Background(), "alice", "bob", "30")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusFailed, rec.Status)
	assert.Equal(t, domain.ReasonAccountUnavailable, rec.Reason)
	assert.Equal(t, "100", e.balance(t, "alice"), "sender debit reversed")
	assert.Equal(t, "0", e.balance(t, "bob"))
}

func TestEngine_SenderFrozenMidFlightIsRefunded(t *testing.T) {
	e := newEngine(t, changeAfterDebit(map[string]domain.AccountStatus{
		"alice": domain.AccountStatusFrozen,
		"bob":   domain.AccountStatusClosed,
	}))
	e.register(t, "alice", "100")
	e.register(t, "bob", "0")

	rec, err := e.transfer(context.Background(), "alice", "bob", "30")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusFailed, rec.Status)
	assert.Equal(t, domain.ReasonAccountUnavailable, rec.Reason)
	assert.Equal(t, "100", e.balance(t, "alice"), "frozen sender gets the debit back")
	assert.Equal(t, "0", e.balance(t, "bob"))
}

func TestEngine_ConcurrentOverspend(t *testing.T) {
	e := newEngine(t, nil)
	e.register(t, "alice", "55")
	e.register(t, "bob", "0")

	var committed, failed atomic.Int64
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			rec, err := e.transfer(context.Background(), "alice", "bob", "10")
			if err != nil {
				return err
			}
			switch {
			case rec.Status == domain.TransferStatusCommitted:
				committed.Add(1)
			case rec.Reason == domain.ReasonInsufficientFunds:
				failed.Add(1)
			default:
				return fmt.Errorf("unexpected outcome %s/%s", rec.Status, rec.Reason)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(5), committed.Load())
	assert.Equal(t, int64(5), failed.Load())
	assert.Equal(t, "5", e.balance(t, "alice"))
	assert.Equal(t, "50", e.balance(t, "bob"))
}

func TestEngine_OppositeTransfersDoNotDeadlock(t *testing.T) {
	e := newEngine(t, nil)
	e.register(t, "alice", "500")
	e.register(t, "bob", "500")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 100; i++ {
		from, to := "alice", "bob"
		if i%2 == 1 {
			from, to = to, from
		}
		g.Go(func() error {
			_, err := e.transfer(gctx, from, to, "7")
			return err
		})
	}
	require.NoError(t, g.Wait(), "every transfer finishes before the deadline")

	alice := decimal.RequireFromString(e.balance(t, "alice"))
	bob := decimal.RequireFromString(e.balance(t, "bob"))
	assert.Equal(t, "1000", alice.Add(bob).String())
}

func TestEngine_ConservationAndReplay(t *testing.T) {
	e := newEngine(t, nil)
	ids := []string{"acc_a", "acc_b", "acc_c", "acc_d", "acc_e"}
	for _, id := range ids {
		e.register(t, id, "200")
	}

	rng := rand.New(rand.NewSource(42))
	type job struct{ from, to, amount string }
	jobs := make([]job, 300)
	for i := range jobs {
		from := rng.Intn(len(ids))
		to := (from + 1 + rng.Intn(len(ids)-1)) % len(ids)
		jobs[i] = job{ids[from], ids[to], fmt.Sprintf("%d.%02d", rng.Intn(60), rng.Intn(99)+1)}
	}

	var g errgroup.Group
	g.SetLimit(16)
	for _, j := range jobs {
		g.Go(func() error {
			rec, err := e.transfer(context.Background(), j.from, j.to, j.amount)
			if err != nil {
				return err
			}
			if !rec.IsTerminal() {
				return fmt.Errorf("transfer %s returned %s", rec.ID, rec.Status)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	total := decimal.Zero
	for _, id := range ids {
		bal := decimal.RequireFromString(e.balance(t, id))
		assert.False(t, bal.IsNegative(), "%s went negative", id)
		total = total.Add(bal)

		records, err := e.transfers.ListByAccount(context.Background(), ports.HistoryQuery{AccountID: id, Limit: len(jobs)})
		require.NoError(t, err)
		replayed := decimal.RequireFromString("200")
		for i := range records {
			replayed = replayed.Add(records[i].DeltaFor(id))
		}
		assert.True(t, replayed.Equal(bal), "%s: replay %s, balance %s", id, replayed, bal)
	}
	assert.Equal(t, "1000", total.String())
}

func TestEngine_IdempotentRetry(t *testing.T) {
	e := newEngine(t, nil)
	e.register(t, "alice", "100")
	e.register(t, "bob", "0")

	req := ports.TransferRequest{
		SenderID: "alice", RecipientID: "bob", Currency: "USD",
		Amount: decimal.RequireFromString("30"), IdempotencyKey: "order-7",
	}
	first, err := e.svc.Transfer(context.Background(), req)
	require.NoError(t, err)
	second, err := e.svc.Transfer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "70", e.balance(t, "alice"))
}

func TestEngine_ReplayAfterRecipientClosed(t *testing.T) {
	e := newEngine(t, nil)
	e.register(t, "alice", "100")
	e.register(t, "bob", "0")

	req := ports.TransferRequest{
		SenderID: "alice", RecipientID: "bob", Currency: "USD",
		Amount: decimal.RequireFromString("30"), IdempotencyKey: "order-8",
	}
	first, err := e.svc.Transfer(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusCommitted, first.Status)

	require.NoError(t, e.accounts.UpdateStatus(context.Background(), "bob", domain.AccountStatusClosed, time.Now()))

	replayed, err := e.svc.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replayed.ID)
	assert.Equal(t, domain.TransferStatusCommitted, replayed.Status)
	assert.Equal(t, "70", e.balance(t, "alice"))
}
