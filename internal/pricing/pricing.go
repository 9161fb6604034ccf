// Package pricing maps file sizes and balances to monetary amounts.
// All functions are pure and deterministic.
package pricing

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// BytesPerGB is the binary gigabyte used by every rate.
const BytesPerGB int64 = 1 << 30

// Days in a billing month.
const daysPerMonth = 30

// Rates holds the configured prices, all in token units.
type Rates struct {
	DailyPerGB    decimal.Decimal // Storage fee per GB per day
	TransferPerGB decimal.Decimal // Transfer fee per GB per download
	MinUnit       decimal.Decimal // Smallest chargeable amount
}

// DefaultRates returns $0.005/GB/day storage, $0.01/GB transfer and a $0.0001
// minimum unit.
func DefaultRates() Rates {
	return Rates{
		DailyPerGB:    decimal.RequireFromString("0.005"),
		TransferPerGB: decimal.RequireFromString("0.01"),
		MinUnit:       decimal.RequireFromString("0.0001"),
	}
}

func gigabytes(sizeBytes int64) decimal.Decimal {
	return decimal.NewFromInt(sizeBytes).Div(decimal.NewFromInt(BytesPerGB))
}

// DailyStorageFee is the storage charge for one day of a file of sizeBytes.
func (r Rates) DailyStorageFee(sizeBytes int64) decimal.Decimal {
	return gigabytes(sizeBytes).Mul(r.DailyPerGB)
}

// MonthlyStorageFee is thirty daily fees.
func (r Rates) MonthlyStorageFee(sizeBytes int64) decimal.Decimal {
	return r.DailyStorageFee(sizeBytes).Mul(decimal.NewFromInt(daysPerMonth))
}

// TransferFee is the charge for one download of a file of sizeBytes.
func (r Rates) TransferFee(sizeBytes int64) decimal.Decimal {
	return gigabytes(sizeBytes).Mul(r.TransferPerGB)
}

// RoundUpToMinimumUnit rounds amount up to a multiple of the minimum unit. It
// never rounds down.
func (r Rates) RoundUpToMinimumUnit(amount decimal.Decimal) decimal.Decimal {
	if !r.MinUnit.IsPositive() {
		return amount
	}
	return amount.Div(r.MinUnit).Ceil().Mul(r.MinUnit)
}

// DaysCovered returns how many whole days balance pays for at dailyTotal.
// unbounded is true when dailyTotal is zero.
func DaysCovered(balance, dailyTotal decimal.Decimal) (days int64, unbounded bool) {
	if dailyTotal.IsZero() {
		return 0, true
	}
	return balance.Div(dailyTotal).Floor().IntPart(), false
}

// FromUnits converts an amount in the token's smallest denomination to a
// decimal token amount.
func FromUnits(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ToUnits converts a token amount to the smallest denomination, truncating any
// precision the token cannot represent.
func ToUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}
