package marketplace

import (
	"fmt"
	"math"
	"math/bits"
)

const (
	// DefaultFeeRate is the fee charged on a fresh ledger: 1%.
	DefaultFeeRate uint64 = 100
	// MaxFeeRate is 100% in basis points.
	MaxFeeRate uint64 = 10_000
)

// Quote is what a buyer owes for a listing.
type Quote struct {
	Price   uint64 `json:"price"`
	Fee     uint64 `json:"fee"`
	Total   uint64 `json:"total"`
	FeeRate uint64 `json:"fee_rate"`
}

// ComputeFee returns floor(price * rate / 10000) without intermediate
// overflow.
func ComputeFee(price, rate uint64) (uint64, error) {
	if rate > MaxFeeRate {
		return 0, fmt.Errorf("%w: %d exceeds %d", ErrInvalidFeeRate, rate, MaxFeeRate)
	}
	// hi < rate <= MaxFeeRate, so Div64 cannot overflow.
	hi, lo := bits.Mul64(price, rate)
	fee, _ := bits.Div64(hi, lo, MaxFeeRate)
	return fee, nil
}

// NewQuote prices a listing at rate.
func NewQuote(price, rate uint64) (Quote, error) {
	fee, err := ComputeFee(price, rate)
	if err != nil {
		return Quote{}, err
	}
	if price > math.MaxUint64-fee {
		return Quote{}, fmt.Errorf("%w: price %d plus fee %d overflows", ErrInsufficientPayment, price, fee)
	}
	return Quote{Price: price, Fee: fee, Total: price + fee, FeeRate: rate}, nil
}
