package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const transferColumns = `id, idempotency_key, sender_id, recipient_id, currency, amount::text,
		status, reason, created_at, finalized_at`

// querier is satisfied by both Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TransferRepo implements ports.TransferLog.
type TransferRepo struct {
	pool Pool
}

// NewTransferRepo creates a new TransferRepo.
func NewTransferRepo(pool Pool) *TransferRepo {
	return &TransferRepo{pool: pool}
}

// Append inserts a new record. Records are write-once by id.
func (r *TransferRepo) Append(ctx context.Context, rec *domain.TransferRecord) error {
	return insertTransfer(ctx, r.pool, rec)
}

// Finalize persists the terminal state of a pending record.
func (r *TransferRepo) Finalize(ctx context.Context, rec *domain.TransferRecord) error {
	return finalizeTransfer(ctx, r.pool, rec)
}

// GetByID fetches a record by id.
func (r *TransferRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	return scanTransfer(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey fetches the record created under a scoped idempotency key.
func (r *TransferRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE idempotency_key = $1`
	return scanTransfer(r.pool.QueryRow(ctx, query, key))
}

// ListByAccount returns one keyset page of records touching the account.
func (r *TransferRepo) ListByAccount(ctx context.Context, q ports.HistoryQuery) ([]domain.TransferRecord, error) {
	conditions := []string{"(sender_id = $1 OR recipient_id = $1)"}
	args := []any{q.AccountID}
	argIdx := 2

	if q.After != nil {
		conditions = append(conditions, fmt.Sprintf("(created_at, id) > ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, q.After.CreatedAt, q.After.ID)
		argIdx += 2
	}

	query := fmt.Sprintf(`SELECT %s FROM transfers WHERE %s ORDER BY created_at, id LIMIT $%d`,
		transferColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, q.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list transfers", err)
	}
	defer rows.Close()

	records := []domain.TransferRecord{}
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate transfers", err)
	}
	return records, nil
}

func insertTransfer(ctx context.Context, q querier, rec *domain.TransferRecord) error {
	query := `INSERT INTO transfers (id, idempotency_key, sender_id, recipient_id, currency, amount,
		status, reason, created_at, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)`

	_, err := q.Exec(ctx, query,
		rec.ID, nullable(rec.IdempotencyKey), rec.SenderID, rec.RecipientID, rec.Currency,
		rec.Amount.String(), rec.Status, nullable(string(rec.Reason)), rec.CreatedAt, rec.FinalizedAt,
	)
	if err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return apperror.ErrDuplicateRecord(rec.ID.String())
		case codeForeignKeyViolation:
			return apperror.ErrUnknownAccount(rec.SenderID + "/" + rec.RecipientID)
		}
		return wrapErr("insert transfer", err)
	}
	return nil
}

func finalizeTransfer(ctx context.Context, q querier, rec *domain.TransferRecord) error {
	query := `UPDATE transfers SET status = $1, reason = $2, finalized_at = $3
		WHERE id = $4 AND status = 'PENDING'`

	tag, err := q.Exec(ctx, query, rec.Status, nullable(string(rec.Reason)), rec.FinalizedAt, rec.ID)
	if err != nil {
		return wrapErr("finalize transfer", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrRecordFinalized(rec.ID.String())
	}
	return nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row scanner) (*domain.TransferRecord, error) {
	rec := &domain.TransferRecord{}
	var idemKey, reason *string
	var rawAmount string

	err := row.Scan(
		&rec.ID, &idemKey, &rec.SenderID, &rec.RecipientID, &rec.Currency, &rawAmount,
		&rec.Status, &reason, &rec.CreatedAt, &rec.FinalizedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("scan transfer", err)
	}

	if rec.Amount, err = parseAmount(rawAmount); err != nil {
		return nil, err
	}
	if idemKey != nil {
		rec.IdempotencyKey = *idemKey
	}
	if reason != nil {
		rec.Reason = domain.FailureReason(*reason)
	}
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
