// README: Money value object; amounts are kept in minor units (cents).
package types

import "math"

const DefaultCurrency = "USD"

type Money struct {
	Amount   int64
	Currency string
}

// MoneyFromUnits converts a decimal major-unit amount (e.g. 12.50) to Money.
func MoneyFromUnits(units float64) Money {
	return Money{Amount: int64(math.Round(units * 100)), Currency: DefaultCurrency}
}

func (m Money) Units() float64 {
	return float64(m.Amount) / 100
}
