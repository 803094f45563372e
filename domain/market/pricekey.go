package market

import (
	"strings"

	"brokerd/pkg/errors"

	"github.com/shopspring/decimal"
)

const (
	// PriceScale is the number of fractional digits carried by a price key.
	PriceScale = 20

	intDigits   = 19
	priceKeyLen = intDigits + 1 + PriceScale
)

// MaxPrice is the largest price that can be indexed.
var MaxPrice = decimal.RequireFromString("9223372036854775807")

// AskKey encodes price into a fixed-width key whose byte order matches
// ascending price.
func AskKey(price decimal.Decimal) (string, error) {
	if err := checkPrice(price); err != nil {
		return "", err
	}
	return encodePrice(price), nil
}

// BidKey encodes price into a fixed-width key whose byte order matches
// descending price, so that the best bid sorts first.
func BidKey(price decimal.Decimal) (string, error) {
	if err := checkPrice(price); err != nil {
		return "", err
	}
	return encodePrice(MaxPrice.Sub(price)), nil
}

// PriceKey dispatches on side. Asks sort ascending, bids descending.
func PriceKey(side Side, price decimal.Decimal) (string, error) {
	switch side {
	case Ask:
		return AskKey(price)
	case Bid:
		return BidKey(price)
	default:
		return "", errors.Validation("cannot index price for side %s", side)
	}
}

// DecodePriceKey reverses PriceKey.
func DecodePriceKey(side Side, key string) (decimal.Decimal, error) {
	if len(key) < priceKeyLen {
		return decimal.Zero, errors.Validation("price key %q too short", key)
	}
	d, err := decimal.NewFromString(key[:priceKeyLen])
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.ValidationError, err, "price key %q", key)
	}
	if side == Bid {
		return MaxPrice.Sub(d), nil
	}
	return d, nil
}

func checkPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return errors.Validation("price %s is negative", price)
	}
	if price.GreaterThan(MaxPrice) {
		return errors.Validation("price %s exceeds maximum %s", price, MaxPrice)
	}
	if !price.Truncate(PriceScale).Equal(price) {
		return errors.Validation("price %s has more than %d decimal places", price, PriceScale)
	}
	return nil
}

func encodePrice(price decimal.Decimal) string {
	s := price.StringFixed(PriceScale)
	intPart, frac, _ := strings.Cut(s, ".")
	return strings.Repeat("0", intDigits-len(intPart)) + intPart + "." + frac
}
