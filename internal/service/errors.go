package service

import (
	"context"
	"errors"
	"fmt"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/pkg/apperror"
)

// storageErr passes typed errors from the adapters through and wraps
// anything else as an internal error.
func storageErr(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperror.InternalError(fmt.Errorf("%s: %w", op, err))
}

// failureReason maps a ledger error to the reason recorded on a FAILED transfer.
func failureReason(err error) domain.FailureReason {
	switch apperror.Code(err) {
	case apperror.CodeInsufficientFunds:
		return domain.ReasonInsufficientFunds
	case apperror.CodeUnknownAccount, apperror.CodeAccountNotFound:
		return domain.ReasonUnknownAccount
	case apperror.CodeAccountUnavailable:
		return domain.ReasonAccountUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ReasonCancelled
	}
	return domain.ReasonStorageUnavailable
}
