package domain

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// ErrInvalidAmount is returned for amounts that are not positive decimals
// with exactly two fraction digits.
var ErrInvalidAmount = errors.New("amount must be a positive decimal with two fraction digits")

// amountPattern matches the provider-native decimal form, e.g. "25.00".
var amountPattern = regexp.MustCompile(`^([0-9]+)\.([0-9]{2})$`)

// maxWholeUnits bounds the integer part so whole*100+frac cannot wrap int64.
const maxWholeUnits = (math.MaxInt64 - 99) / 100

// ParseAmount converts a provider-native decimal string into centavos.
// The two-fraction-digit requirement is a hard contract: anything looser
// would introduce rounding at the boundary.
func ParseAmount(value string) (int64, error) {
	matches := amountPattern.FindStringSubmatch(value)
	if matches == nil {
		return 0, ErrInvalidAmount
	}

	whole, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil || whole > maxWholeUnits {
		return 0, ErrInvalidAmount
	}
	frac, err := strconv.ParseInt(matches[2], 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	centavos := whole*100 + frac
	if centavos <= 0 {
		return 0, ErrInvalidAmount
	}
	return centavos, nil
}

// FormatAmount renders centavos back into the provider-native decimal form.
// ParseAmount(FormatAmount(v)) == v for every valid v.
func FormatAmount(centavos int64) string {
	return fmt.Sprintf("%d.%02d", centavos/100, centavos%100)
}
