package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxAmountScale is the largest number of fractional digits an amount may carry.
const MaxAmountScale = 18

// maxAmount bounds a single amount. Balances are sums of such amounts.
var maxAmount = decimal.New(1, MaxAmountScale)

// ValidateAmount accepts positive amounts with a scale in [0, MaxAmountScale]
// and a magnitude below maxAmount. The exponent is checked before any
// comparison, since comparing rescales both operands.
func ValidateAmount(amount decimal.Decimal, what string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, what)
	}
	if exp := amount.Exponent(); exp < -MaxAmountScale || exp > MaxAmountScale {
		return fmt.Errorf("%w: %s must have at most %d decimal places", ErrInvalidAmount, what, MaxAmountScale)
	}
	if !amount.LessThan(maxAmount) {
		return fmt.Errorf("%w: %s must be less than %s", ErrInvalidAmount, what, maxAmount.String())
	}
	return nil
}
