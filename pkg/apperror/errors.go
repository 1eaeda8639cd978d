package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Error codes. Kinds are identified by code, so callers compare with Is.
const (
	CodeDuplicateAccount   = "ACC_001"
	CodeInvalidMetadata    = "ACC_002"
	CodeAccountNotFound    = "ACC_003"
	CodeAccountUnavailable = "ACC_004"

	CodeUnknownAccount = "LED_001"
	CodeWalletExists   = "LED_002"

	CodeInsufficientFunds = "PAY_001"
	CodeInvalidAmount     = "PAY_002"
	CodeDuplicateTransfer = "PAY_003"
	CodeSameAccount       = "PAY_005"
	CodeTransferTimeout   = "PAY_006"

	CodeDuplicateRecord  = "LOG_001"
	CodeRecordFinalized  = "LOG_002"
	CodeTransferNotFound = "LOG_003"

	CodeValidation      = "VAL_001"
	CodePayloadTooLarge = "VAL_002"

	CodeInvalidToken = "AUTH_001"
	CodeForbidden    = "AUTH_003"

	CodeRateLimited = "RATE_001"

	CodeInternal           = "SYS_001"
	CodeStorageUnavailable = "SYS_002"
)

// Code returns the code of the first AppError in err's chain, or "".
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is returns true if err carries an AppError with the given code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

// ---- Account Registry (ACC) ----

func ErrDuplicateAccount(id string) *AppError {
	return New(CodeDuplicateAccount, fmt.Sprintf("Account %q already exists", id), http.StatusConflict)
}

func ErrInvalidMetadata(message string) *AppError {
	return New(CodeInvalidMetadata, message, http.StatusBadRequest)
}

func ErrAccountNotFound(id string) *AppError {
	return New(CodeAccountNotFound, fmt.Sprintf("Account %q not found", id), http.StatusNotFound)
}

func ErrAccountUnavailable(id string) *AppError {
	return New(CodeAccountUnavailable, fmt.Sprintf("Account %q is not active", id), http.StatusConflict)
}

// ---- Ledger Store (LED) ----

func ErrUnknownAccount(id string) *AppError {
	return New(CodeUnknownAccount, fmt.Sprintf("Account %q is not registered in the ledger", id), http.StatusNotFound)
}

func ErrWalletExists(id, currency string) *AppError {
	return New(CodeWalletExists, fmt.Sprintf("Account %q already has a %s wallet", id, currency), http.StatusConflict)
}

// ---- Transfers (PAY) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
}

func ErrDuplicateTransfer() *AppError {
	return New(CodeDuplicateTransfer, "Transfer with this idempotency key is still in progress", http.StatusConflict)
}

func ErrSameAccount() *AppError {
	return New(CodeSameAccount, "Sender and recipient must differ", http.StatusBadRequest)
}

func ErrTransferTimeout(transferID string, err error) *AppError {
	return Wrap(CodeTransferTimeout,
		fmt.Sprintf("Transfer %s is still being processed, check its history for the outcome", transferID),
		http.StatusGatewayTimeout, err)
}

// ---- Transaction Log (LOG) ----

func ErrDuplicateRecord(id string) *AppError {
	return New(CodeDuplicateRecord, fmt.Sprintf("Transfer record %s already exists", id), http.StatusConflict)
}

func ErrRecordFinalized(id string) *AppError {
	return New(CodeRecordFinalized, fmt.Sprintf("Transfer record %s is already finalized", id), http.StatusConflict)
}

func ErrTransferNotFound(id string) *AppError {
	return New(CodeTransferNotFound, fmt.Sprintf("Transfer %s not found", id), http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Administrator role required", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap(CodeInternal, "Internal database error", http.StatusInternalServerError, err)
}

// ErrStorageUnavailable marks a transient storage failure that is safe to retry.
func ErrStorageUnavailable(err error) *AppError {
	return Wrap(CodeStorageUnavailable, "Storage temporarily unavailable", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// ErrPayloadTooLarge rejects a request body over the configured limit.
func ErrPayloadTooLarge() *AppError {
	return New(CodePayloadTooLarge, "Request body too large", http.StatusRequestEntityTooLarge)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}
