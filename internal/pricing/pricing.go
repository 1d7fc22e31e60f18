package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Quote is the price breakdown for a rental
type Quote struct {
	Days     int             `json:"days"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Deposit  decimal.Decimal `json:"deposit"`
	Total    decimal.Decimal `json:"total"`
}

// Calculate prices a rental. Days are counted inclusively: a same-day rental
// bills one day and a start/end exactly 24h apart bills two. The deposit is
// passed through unprorated. Inputs are not validated here.
func Calculate(dailyRate, deposit decimal.Decimal, start, end time.Time) Quote {
	days := BillableDays(start, end)
	subtotal := dailyRate.Mul(decimal.NewFromInt(int64(days)))

	return Quote{
		Days:     days,
		Subtotal: subtotal,
		Deposit:  deposit,
		Total:    subtotal.Add(deposit),
	}
}

// BillableDays returns ceil((end-start)/1 day) + 1
func BillableDays(start, end time.Time) int {
	d := end.Sub(start)
	days := int(d / day)
	if d%day > 0 {
		days++
	}
	return days + 1
}
