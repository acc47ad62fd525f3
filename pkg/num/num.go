package num

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round — half-away-from-zero округление до places знаков через decimal,
// чтобы 0.125 -> 0.13 не зависело от двоичного представления.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ParseFloat для строковых чисел биржи ("12.5"). Пустое/битое -> 0.
func ParseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// Floor — отбрасывает всё после places знаков (размер ордера не должен расти при округлении).
func Floor(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Truncate(places).InexactFloat64()
}
