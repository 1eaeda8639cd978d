package service

import (
	"context"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"
	"exchange-ledger/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

const idempotencyTTL = 24 * time.Hour

// RetryPolicy bounds the retries of StorageUnavailable failures.
type RetryPolicy struct {
	MaxRetries             uint64
	CompensationMaxRetries uint64
	InitialInterval        time.Duration
	MaxInterval            time.Duration
}

// DefaultRetryPolicy matches the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:             3,
		CompensationMaxRetries: 10,
		InitialInterval:        50 * time.Millisecond,
		MaxInterval:            2 * time.Second,
	}
}

// TransferOption configures optional collaborators of the transfer engine.
type TransferOption func(*TransferServiceImpl)

// WithAtomicExecutor makes the engine run each transfer as a single storage
// transaction instead of the debit, credit, compensate sequence.
func WithAtomicExecutor(exec ports.AtomicTransferExecutor) TransferOption {
	return func(s *TransferServiceImpl) { s.executor = exec }
}

// WithIdempotencyCache adds a cache in front of the idempotency lookup.
func WithIdempotencyCache(cache ports.IdempotencyCache) TransferOption {
	return func(s *TransferServiceImpl) { s.cache = cache }
}

// WithEventPublisher publishes an event for every terminal transfer.
func WithEventPublisher(pub ports.EventPublisher) TransferOption {
	return func(s *TransferServiceImpl) { s.publisher = pub }
}

// WithMeter records transfer counters on meter.
func WithMeter(meter metric.Meter) TransferOption {
	return func(s *TransferServiceImpl) { s.metrics = newTransferMetrics(meter) }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) TransferOption {
	return func(s *TransferServiceImpl) { s.policy = p }
}

// TransferServiceImpl implements ports.TransferService.
type TransferServiceImpl struct {
	accounts   ports.AccountRepository
	ledger     ports.LedgerStore
	transfers  ports.TransferLog
	currencies *domain.Currencies

	executor  ports.AtomicTransferExecutor
	cache     ports.IdempotencyCache
	publisher ports.EventPublisher
	metrics   transferMetrics
	policy    RetryPolicy
	now       func() time.Time
	log       zerolog.Logger
}

// NewTransferService creates the transfer engine.
func NewTransferService(
	accounts ports.AccountRepository,
	ledger ports.LedgerStore,
	transfers ports.TransferLog,
	currencies *domain.Currencies,
	log zerolog.Logger,
	opts ...TransferOption,
) *TransferServiceImpl {
	s := &TransferServiceImpl{
		accounts:   accounts,
		ledger:     ledger,
		transfers:  transfers,
		currencies: currencies,
		metrics:    newTransferMetrics(nil),
		policy:     DefaultRetryPolicy(),
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type transferResult struct {
	rec *domain.TransferRecord
	err error
}

// Transfer validates the request and moves the funds. It returns a COMMITTED
// or FAILED record. Once the record exists the caller's context no longer
// stops the transfer: if it ends first, TransferTimeout is returned and the
// transfer still reaches a terminal state in the background.
func (s *TransferServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*domain.TransferRecord, error) {
	sender := domain.NormalizeAccountID(req.SenderID)
	recipient := domain.NormalizeAccountID(req.RecipientID)

	cur, ok := s.currencies.Lookup(req.Currency)
	if !ok {
		return nil, apperror.Validation("unsupported currency " + req.Currency)
	}
	if !req.Amount.IsPositive() || !cur.Accepts(req.Amount) {
		return nil, apperror.ErrInvalidAmount()
	}
	if sender == recipient {
		return nil, apperror.ErrSameAccount()
	}

	// A finished transfer is replayed even if a party has been closed since.
	idemKey := domain.BuildIdempotencyKey(sender, req.IdempotencyKey)
	if idemKey != "" {
		rec, err := s.replay(ctx, idemKey)
		if err != nil || rec != nil {
			return rec, err
		}
	}

	if err := s.checkParty(ctx, sender); err != nil {
		return nil, err
	}
	if err := s.checkParty(ctx, recipient); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := domain.NewTransferRecord(sender, recipient, cur.Code, req.Amount, idemKey, s.now())
	work := context.WithoutCancel(ctx)

	done := make(chan transferResult, 1)
	go func() {
		out, err := s.execute(work, ctx, rec)
		if err == nil {
			s.afterTerminal(work, out)
		}
		done <- transferResult{rec: out, err: err}
	}()

	select {
	case res := <-done:
		return res.rec, res.err
	case <-ctx.Done():
		s.log.Warn().
			Str("transfer_id", rec.ID.String()).
			Err(ctx.Err()).
			Msg("caller gave up waiting, transfer continues")
		return nil, apperror.ErrTransferTimeout(rec.ID.String(), ctx.Err())
	}
}

func (s *TransferServiceImpl) checkParty(ctx context.Context, id string) error {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return storageErr("get account", err)
	}
	if account == nil {
		return apperror.ErrAccountNotFound(id)
	}
	if !account.IsActive() {
		return apperror.ErrAccountUnavailable(id)
	}
	return nil
}

// replay returns the terminal record already stored under key, nil if the
// key is unused, or DuplicateTransfer while that transfer is in flight.
func (s *TransferServiceImpl) replay(ctx context.Context, key string) (*domain.TransferRecord, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("idempotency cache lookup failed, falling through to log")
		}
		if cached != nil {
			return cached, nil
		}
	}

	rec, err := s.transfers.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, storageErr("idempotency lookup", err)
	}
	if rec == nil {
		return nil, nil
	}
	if !rec.IsTerminal() {
		return nil, apperror.ErrDuplicateTransfer()
	}
	return rec, nil
}

// execute drives rec to a terminal state. caller is only consulted before
// any balance moves.
func (s *TransferServiceImpl) execute(ctx, caller context.Context, rec *domain.TransferRecord) (*domain.TransferRecord, error) {
	if s.executor != nil {
		return s.executeAtomic(ctx, rec)
	}
	return s.executeSaga(ctx, caller, rec)
}

func (s *TransferServiceImpl) executeAtomic(ctx context.Context, rec *domain.TransferRecord) (*domain.TransferRecord, error) {
	err := s.retry(ctx, rec, "execute transfer", s.policy.MaxRetries, func() error {
		return s.executor.ExecuteTransfer(ctx, rec)
	})
	switch {
	case err == nil:
		return rec, nil
	case apperror.Is(err, apperror.CodeDuplicateRecord):
		return s.resolveAtomicDuplicate(ctx, rec)
	case !apperror.Is(err, apperror.CodeStorageUnavailable):
		return nil, storageErr("execute transfer", err)
	}

	// No attempt is known to have committed. Leave a FAILED record so the
	// outcome is queryable. If one did commit, the insert collides with it
	// and the committed record is returned instead.
	rec.Finalize(domain.TransferStatusFailed, domain.ReasonStorageUnavailable, s.now())
	if appendErr := s.transfers.Append(ctx, rec); appendErr != nil {
		if apperror.Is(appendErr, apperror.CodeDuplicateRecord) {
			return s.resolveAtomicDuplicate(ctx, rec)
		}
		s.log.Error().Err(appendErr).Str("transfer_id", rec.ID.String()).Msg("could not record failed transfer")
		return nil, apperror.ErrStorageUnavailable(err)
	}
	return rec, nil
}

func (s *TransferServiceImpl) executeSaga(ctx, caller context.Context, rec *domain.TransferRecord) (*domain.TransferRecord, error) {
	err := s.retry(ctx, rec, "append record", s.policy.MaxRetries, func() error {
		return s.transfers.Append(ctx, rec)
	})
	if err != nil {
		if !apperror.Is(err, apperror.CodeDuplicateRecord) {
			return nil, storageErr("append record", err)
		}
		existing, landed, err := s.resolveDuplicate(ctx, rec)
		if !landed {
			return existing, err
		}
	}

	if caller.Err() != nil {
		return s.finalize(ctx, rec, domain.TransferStatusFailed, domain.ReasonCancelled), nil
	}

	err = s.retry(ctx, rec, "debit sender", s.policy.MaxRetries, func() error {
		_, err := s.ledger.ApplyDelta(ctx, rec.SenderID, rec.Currency, rec.Amount.Neg())
		return err
	})
	if err != nil {
		return s.finalize(ctx, rec, domain.TransferStatusFailed, failureReason(err)), nil
	}

	err = s.retry(ctx, rec, "credit recipient", s.policy.MaxRetries, func() error {
		_, err := s.ledger.ApplyDelta(ctx, rec.RecipientID, rec.Currency, rec.Amount)
		return err
	})
	if err != nil {
		return s.finalize(ctx, rec, domain.TransferStatusFailed, s.compensate(ctx, rec, err)), nil
	}

	return s.finalize(ctx, rec, domain.TransferStatusCommitted, ""), nil
}

// compensate returns the debited amount to the sender after creditErr and
// reports the reason the record should carry.
func (s *TransferServiceImpl) compensate(ctx context.Context, rec *domain.TransferRecord, creditErr error) domain.FailureReason {
	s.metrics.compensations.Add(ctx, 1)

	err := s.retry(ctx, rec, "compensate sender", s.policy.CompensationMaxRetries, func() error {
		_, err := s.ledger.Reverse(ctx, rec.SenderID, rec.Currency, rec.Amount)
		return err
	})
	if err == nil {
		s.log.Warn().
			Str("transfer_id", rec.ID.String()).
			AnErr("credit_error", creditErr).
			Msg("credit failed, sender debit reversed")
		return failureReason(creditErr)
	}

	s.metrics.reconciliations.Add(ctx, 1)
	transferFields(logger.Reconciliation(s.log), rec).
		Err(err).
		AnErr("credit_error", creditErr).
		Msg("compensation failed, sender was debited without a matching credit")
	return domain.ReasonCompensationFailed
}

// finalize moves rec to its terminal state and persists it. A record that
// cannot be persisted is still returned terminal, since the balances
// already reflect it, and is logged for reconciliation.
func (s *TransferServiceImpl) finalize(ctx context.Context, rec *domain.TransferRecord, status domain.TransferStatus, reason domain.FailureReason) *domain.TransferRecord {
	rec.Finalize(status, reason, s.now())

	err := s.retry(ctx, rec, "finalize record", s.policy.CompensationMaxRetries, func() error {
		return s.transfers.Finalize(ctx, rec)
	})
	if err != nil {
		transferFields(logger.Reconciliation(s.log), rec).
			Err(err).
			Msg("transfer outcome could not be persisted, stored record is stale")
	}
	return rec
}

// resolveDuplicate handles an Append that collided with an existing record.
// A retried Append whose earlier attempt did land collides on its own id:
// landed is then true when that record is still PENDING, and a terminal
// copy is returned as the outcome. Otherwise the idempotency key was taken
// by a concurrent request between the replay check and the insert.
func (s *TransferServiceImpl) resolveDuplicate(ctx context.Context, rec *domain.TransferRecord) (existing *domain.TransferRecord, landed bool, err error) {
	own, err := s.transfers.GetByID(ctx, rec.ID)
	if err != nil {
		return nil, false, storageErr("get record", err)
	}
	if own != nil {
		if own.IsTerminal() {
			return own, false, nil
		}
		return nil, true, nil
	}

	if rec.IdempotencyKey == "" {
		return nil, false, apperror.ErrDuplicateRecord(rec.ID.String())
	}
	existing, err = s.transfers.GetByIdempotencyKey(ctx, rec.IdempotencyKey)
	if err != nil {
		return nil, false, storageErr("idempotency lookup", err)
	}
	if existing == nil || !existing.IsTerminal() {
		return nil, false, apperror.ErrDuplicateTransfer()
	}
	return existing, false, nil
}

// resolveAtomicDuplicate is resolveDuplicate for the single-transaction
// path, which never leaves a PENDING record behind.
func (s *TransferServiceImpl) resolveAtomicDuplicate(ctx context.Context, rec *domain.TransferRecord) (*domain.TransferRecord, error) {
	existing, landed, err := s.resolveDuplicate(ctx, rec)
	if landed {
		return nil, apperror.ErrDuplicateRecord(rec.ID.String())
	}
	return existing, err
}

// retry runs op with exponential backoff while it fails with
// StorageUnavailable, at most maxRetries extra times.
func (s *TransferServiceImpl) retry(ctx context.Context, rec *domain.TransferRecord, step string, maxRetries uint64, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialInterval
	if s.policy.MaxInterval > 0 {
		b.MaxInterval = s.policy.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempt := func() error {
		err := op()
		if err == nil || apperror.Is(err, apperror.CodeStorageUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().
			Err(err).
			Str("transfer_id", rec.ID.String()).
			Str("step", step).
			Dur("backoff", wait).
			Msg("storage unavailable, retrying")
	}

	return backoff.RetryNotify(attempt, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx), notify)
}

// afterTerminal runs the best-effort side effects of a finished transfer.
func (s *TransferServiceImpl) afterTerminal(ctx context.Context, rec *domain.TransferRecord) {
	s.metrics.recordOutcome(ctx, rec)

	if s.cache != nil && rec.IdempotencyKey != "" {
		if err := s.cache.Set(ctx, rec, idempotencyTTL); err != nil {
			s.log.Warn().Err(err).Str("key", rec.IdempotencyKey).Msg("failed to cache transfer outcome")
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTransfer(ctx, domain.NewTransferEvent(rec)); err != nil {
			s.log.Warn().Err(err).Str("transfer_id", rec.ID.String()).Msg("failed to publish transfer event")
		}
	}

	event := s.log.Info()
	if rec.Status == domain.TransferStatusFailed {
		event = s.log.Warn()
	}
	transferFields(event, rec).Msg("transfer finished")
}

func transferFields(e *zerolog.Event, rec *domain.TransferRecord) *zerolog.Event {
	return e.
		Str("transfer_id", rec.ID.String()).
		Str("sender_id", rec.SenderID).
		Str("recipient_id", rec.RecipientID).
		Str("currency", rec.Currency).
		Str("amount", rec.Amount.String()).
		Str("status", string(rec.Status)).
		Str("reason", string(rec.Reason))
}
