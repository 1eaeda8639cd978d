package domain

import (
	"regexp"
	"strings"
	"time"
)

// AccountStatus represents the lifecycle state of a ledger account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Valid returns true if s is one of the known statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed:
		return true
	}
	return false
}

var accountIDPattern = regexp.MustCompile(`^[a-z0-9_-]{3,64}$`)

// Account is a registered owner of balances. Accounts are never deleted,
// a closed account keeps its history.
type Account struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	Email     string        `json:"email"`
	Status    AccountStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IsActive returns true if the account may send or receive funds.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// NormalizeAccountID trims and lower-cases a caller supplied identifier.
func NormalizeAccountID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ValidAccountID reports whether id is a well-formed normalized identifier.
func ValidAccountID(id string) bool {
	return accountIDPattern.MatchString(id)
}
