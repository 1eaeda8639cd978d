package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"exchange-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories react to.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// transientCodes are failures after which the same statement may succeed.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isTransient(err error) bool {
	code := pgCode(err)
	if transientCodes[code] || strings.HasPrefix(code, "08") {
		return true
	}
	if code != "" {
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// wrapErr annotates a driver error with the failed operation. Transient
// failures become StorageUnavailable so the transfer engine retries them.
// Context errors are returned unclassified.
func wrapErr(op string, err error) error {
	werr := fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return werr
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if isTransient(err) {
		return apperror.ErrStorageUnavailable(werr)
	}
	return apperror.ErrDatabaseError(werr)
}
