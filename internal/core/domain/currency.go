package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is a ledger asset with a fixed number of fractional digits.
type Currency struct {
	Code  string `json:"code"`
	Scale int32  `json:"scale"`
}

// Accepts returns true if amount has no more fractional digits than the
// currency allows.
func (c Currency) Accepts(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(c.Scale))
}

// DefaultCurrencyScales is used when no currencies are configured.
func DefaultCurrencyScales() map[string]int32 {
	return map[string]int32{
		"USD": 2,
		"EUR": 2,
		"GBP": 2,
		"JPY": 0,
		"BTC": 8,
		"ETH": 18,
	}
}

// Currencies is an immutable lookup table of the configured currencies.
type Currencies struct {
	byCode map[string]Currency
}

// NewCurrencies builds the table. Codes are upper-cased, so keys coming
// from case-insensitive config sources are accepted as-is.
func NewCurrencies(scales map[string]int32) *Currencies {
	if len(scales) == 0 {
		scales = DefaultCurrencyScales()
	}
	byCode := make(map[string]Currency, len(scales))
	for code, scale := range scales {
		code = strings.ToUpper(strings.TrimSpace(code))
		byCode[code] = Currency{Code: code, Scale: scale}
	}
	return &Currencies{byCode: byCode}
}

// Lookup returns the currency for code, case-insensitively.
func (c *Currencies) Lookup(code string) (Currency, bool) {
	cur, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return cur, ok
}

// Codes returns the configured codes in sorted order.
func (c *Currencies) Codes() []string {
	codes := make([]string, 0, len(c.byCode))
	for code := range c.byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
