package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanTerms are computed once at origination.
type LoanTerms struct {
	Principal      decimal.Decimal `json:"principal"`
	AnnualRate     float64         `json:"annual_rate"`
	DurationMonths int             `json:"duration_months"`
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalInterest  decimal.Decimal `json:"total_interest"`
}

type ScheduleRow struct {
	Month       int             `json:"month"`
	PaymentDate time.Time       `json:"payment_date"`
	Payment     decimal.Decimal `json:"payment"`
	Principal   decimal.Decimal `json:"principal"`
	Interest    decimal.Decimal `json:"interest"`
	Balance     decimal.Decimal `json:"balance"`
}

type PayoffQuote struct {
	PayoffAmount  decimal.Decimal `json:"payoff_amount"`
	InterestSaved decimal.Decimal `json:"interest_saved"`
	MonthsSaved   int             `json:"months_saved"`
}
