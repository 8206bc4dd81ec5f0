package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatAmount renders paise as a rupee string with two places ("200.00").
func FormatAmount(paise int64) string {
	return decimal.New(paise, -2).StringFixed(2)
}

// ParseAmount turns a provider rupee amount back into paise. Sub-paisa
// precision is rejected instead of rounded.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrVerification, s)
	}
	p := d.Shift(2)
	if !p.IsInteger() {
		return 0, fmt.Errorf("%w: amount %q has sub-paisa precision", ErrVerification, s)
	}
	return p.IntPart(), nil
}
