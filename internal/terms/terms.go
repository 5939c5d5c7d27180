// Package terms computes fixed-rate loan terms and amortization schedules.
package terms

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/loanengine/internal/domain"
	"github.com/wakala/loanengine/internal/money"
)

const (
	MaxDurationMonths = 600
	MaxAnnualRate     = 1000.0

	// workingPlaces bounds the scale of unrounded intermediate amounts.
	workingPlaces = 12
)

// Calculate returns the fixed-rate amortization terms for principal borrowed
// at annualRate percent over months. Intermediate values keep full precision;
// only the returned amounts are rounded to the cent.
func Calculate(principal decimal.Decimal, annualRate float64, months int) (domain.LoanTerms, error) {
	principal = money.Round(principal)
	if err := validate(principal, annualRate, months); err != nil {
		return domain.LoanTerms{}, err
	}

	terms := domain.LoanTerms{
		Principal:      principal,
		AnnualRate:     annualRate,
		DurationMonths: months,
	}

	if monthlyRate(annualRate) == 0 {
		terms.MonthlyPayment = money.Round(principal.Div(decimal.NewFromInt(int64(months))))
		terms.TotalAmount = principal
		terms.TotalInterest = money.Zero
	} else {
		payment := monthlyPayment(money.Float(principal), annualRate, months)
		terms.MonthlyPayment = money.FromFloat(payment)
		terms.TotalAmount = decimal.Max(money.FromFloat(payment*float64(months)), principal)
		terms.TotalInterest = money.NonNegative(terms.TotalAmount.Sub(principal))
	}

	if !terms.MonthlyPayment.IsPositive() {
		return domain.LoanTerms{}, domain.Invalid("principal %s is too small to repay over %d months",
			principal.StringFixed(2), months)
	}
	return terms, nil
}

// Schedule builds the month-by-month amortization table. The balance, the
// interest and the level payment are carried unrounded through the loop; each
// row's columns are cent-rounded on the way out, with the principal column
// taken as the drop in the rounded balance so it sums to the principal. The
// final row clears whatever balance remains.
func Schedule(principal decimal.Decimal, annualRate float64, months int, start time.Time) ([]domain.ScheduleRow, error) {
	t, err := Calculate(principal, annualRate, months)
	if err != nil {
		return nil, err
	}

	rate := decimal.NewFromFloat(annualRate).Div(decimal.NewFromInt(1200))
	level := decimal.NewFromFloat(monthlyPayment(money.Float(t.Principal), annualRate, months))
	if rate.IsZero() {
		level = t.Principal.Div(decimal.NewFromInt(int64(months)))
	}

	balance := t.Principal
	shown := t.Principal
	rows := make([]domain.ScheduleRow, 0, months)

	for month := 1; month <= months; month++ {
		interest := balance.Mul(rate).Round(workingPlaces)
		part := decimal.Max(level.Sub(interest), decimal.Zero)
		if month == months || part.GreaterThanOrEqual(balance) {
			part = balance
		}
		balance = balance.Sub(part).Round(workingPlaces)

		next := money.NonNegative(money.Round(balance))
		if balance.IsZero() {
			next = money.Zero
		}
		rowPrincipal := shown.Sub(next)
		rowInterest := money.Round(interest)
		shown = next

		rows = append(rows, domain.ScheduleRow{
			Month:       month,
			PaymentDate: domain.AddMonths(start, month),
			Payment:     rowPrincipal.Add(rowInterest),
			Principal:   rowPrincipal,
			Interest:    rowInterest,
			Balance:     next,
		})
		if balance.IsZero() {
			break
		}
	}
	return rows, nil
}

// EarlyPayoff quotes settling balance at payoffDate instead of carrying it
// for the remaining months. Months until payoff are counted in 30-day blocks.
func EarlyPayoff(balance decimal.Decimal, annualRate float64, remainingMonths int, now, payoffDate time.Time) domain.PayoffQuote {
	balance = money.NonNegative(money.Round(balance))
	quote := domain.PayoffQuote{PayoffAmount: balance, InterestSaved: money.Zero}

	monthsUntil := 0
	if payoffDate.After(now) {
		days := payoffDate.Sub(now).Hours() / 24
		monthsUntil = int(math.Ceil(days / 30))
	}
	if remainingMonths <= 0 || monthsUntil >= remainingMonths || balance.IsZero() || annualRate < 0 {
		return quote
	}

	b := money.Float(balance)
	carried := monthlyPayment(b, annualRate, remainingMonths) * float64(remainingMonths)
	quote.InterestSaved = money.NonNegative(money.FromFloat(carried - b))
	quote.MonthsSaved = remainingMonths - monthsUntil
	return quote
}

// MonthlyPayment exposes the unrounded level payment for callers that need it
// as an estimate, such as debt-to-income checks.
func MonthlyPayment(principal decimal.Decimal, annualRate float64, months int) float64 {
	if months < 1 {
		return 0
	}
	return monthlyPayment(money.Float(principal), annualRate, months)
}

func monthlyRate(annualRate float64) float64 {
	return annualRate / 100 / 12
}

func monthlyPayment(p, annualRate float64, n int) float64 {
	r := monthlyRate(annualRate)
	if r == 0 {
		return p / float64(n)
	}
	f := math.Pow(1+r, float64(n))
	if f == 1 {
		return p / float64(n)
	}
	return p * r * f / (f - 1)
}

func validate(principal decimal.Decimal, annualRate float64, months int) error {
	switch {
	case !principal.IsPositive():
		return domain.Invalid("principal must be positive")
	case math.IsNaN(annualRate) || annualRate < 0:
		return domain.Invalid("annual rate must be non-negative")
	case annualRate > MaxAnnualRate:
		return domain.Invalid("annual rate exceeds %.0f%%", MaxAnnualRate)
	case months < 1:
		return domain.Invalid("duration must be at least one month")
	case months > MaxDurationMonths:
		return domain.Invalid("duration exceeds %d months", MaxDurationMonths)
	}
	return nil
}
