// Package payment allocates a repayment across late fee, interest and
// principal, in that order.
package payment

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/loanengine/internal/domain"
	"github.com/wakala/loanengine/internal/money"
)

var (
	lateFeeRate       = decimal.RequireFromString("0.05")
	lateFeeWindowDays = decimal.NewFromInt(30)
	percentMonths     = decimal.NewFromInt(1200)
)

// Payment is a borrower's tender against a loan.
type Payment struct {
	Amount  decimal.Decimal
	PayerID string
	Date    time.Time
}

// Allocate applies p to loan and returns the ledger record together with the
// next loan snapshot. loan itself is left untouched; the caller commits the
// returned snapshot.
//
// The late fee is serviced first, then one month of interest on the
// outstanding balance, then principal. Whatever exceeds the payoff amount is
// reported as Unapplied, so the three components always sum to Amount.
func Allocate(loan domain.Loan, p Payment) (domain.RepaymentRecord, domain.Loan, error) {
	if strings.TrimSpace(p.PayerID) == "" || p.PayerID != loan.BorrowerID {
		return domain.RepaymentRecord{}, loan, fmt.Errorf("%w: payer %q is not the borrower of loan %s",
			domain.ErrUnauthorized, p.PayerID, loan.ID)
	}
	if loan.Status != domain.StatusActive {
		return domain.RepaymentRecord{}, loan, fmt.Errorf("%w: loan %s is %s, repayments need %s",
			domain.ErrInvalidState, loan.ID, loan.Status, domain.StatusActive)
	}
	tendered := money.Round(p.Amount)
	if !tendered.IsPositive() {
		return domain.RepaymentRecord{}, loan, domain.Invalid("payment amount must be positive")
	}

	balance := loan.RemainingBalance
	interest := MonthlyInterest(balance, loan.InterestRate)
	daysLate := DaysLate(loan.NextPaymentDate, p.Date)
	fee := LateFee(loan.MonthlyPayment, daysLate)

	feePart := money.Min(fee, tendered)
	rest := tendered.Sub(feePart)
	interestPart := money.Min(interest, rest)
	rest = rest.Sub(interestPart)
	principalPart := money.Min(rest, balance)
	unapplied := rest.Sub(principalPart)
	applied := tendered.Sub(unapplied)

	next := loan.Clone()
	next.RemainingBalance = money.NonNegative(balance.Sub(principalPart))
	next.InterestAccrued = loan.InterestAccrued.Add(interestPart)
	next.LateFees = loan.LateFees.Add(feePart)
	next.Version = loan.Version + 1
	next.UpdatedAt = p.Date

	if next.RemainingBalance.IsZero() {
		next.Status = domain.StatusPaid
		next.NextPaymentDate = nil
	} else {
		due := nextDueDate(loan.StartDate, loan.NextPaymentDate, p.Date)
		next.NextPaymentDate = &due
	}

	status := domain.RepaymentOnTime
	if daysLate > 0 {
		status = domain.RepaymentLate
	}

	record := domain.RepaymentRecord{
		LoanID:             loan.ID,
		PayerID:            p.PayerID,
		Amount:             applied,
		PrincipalComponent: principalPart,
		InterestComponent:  interestPart,
		LateFeeComponent:   feePart,
		Unapplied:          unapplied,
		DaysLate:           daysLate,
		PaymentDate:        p.Date,
		Status:             status,
		BalanceAfter:       next.RemainingBalance,
	}
	if loan.NextPaymentDate != nil {
		due := *loan.NextPaymentDate
		record.DueDate = &due
	}
	return record, next, nil
}

// MonthlyInterest is one month of simple interest on balance at annualRate
// percent, rounded to the cent.
func MonthlyInterest(balance decimal.Decimal, annualRate float64) decimal.Decimal {
	rate := decimal.NewFromFloat(annualRate).Div(percentMonths)
	return money.NonNegative(money.Round(balance.Mul(rate)))
}

// DaysLate counts started days between the due date and paidAt. Payments on
// or before the due instant are on time.
func DaysLate(due *time.Time, paidAt time.Time) int {
	if due == nil || !paidAt.After(*due) {
		return 0
	}
	return int(math.Ceil(paidAt.Sub(*due).Hours() / 24))
}

// LateFee prorates 5% of the scheduled payment over 30 days. The fee never
// exceeds 5% of one payment however late the borrower is.
func LateFee(monthlyPayment decimal.Decimal, daysLate int) decimal.Decimal {
	if daysLate <= 0 {
		return money.Zero
	}
	fee := monthlyPayment.Mul(lateFeeRate)
	days := decimal.NewFromInt(int64(daysLate))
	if days.LessThan(lateFeeWindowDays) {
		fee = fee.Mul(days).Div(lateFeeWindowDays)
	}
	return money.NonNegative(money.Round(fee))
}

// nextDueDate advances to the first scheduled date after due, counting from
// the loan start so month-end dates do not drift.
func nextDueDate(start time.Time, due *time.Time, paidAt time.Time) time.Time {
	if due == nil {
		return domain.AddMonths(paidAt, 1)
	}
	if start.IsZero() || !start.Before(*due) {
		return domain.AddMonths(*due, 1)
	}
	for k := 1; k <= 12*100; k++ {
		if candidate := domain.AddMonths(start, k); candidate.After(*due) {
			return candidate
		}
	}
	return domain.AddMonths(*due, 1)
}
