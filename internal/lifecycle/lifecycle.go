// Package lifecycle owns a loan's status and the only legal ways to change
// it. Every function takes a snapshot and returns a new one.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/wakala/loanengine/internal/domain"
	"github.com/wakala/loanengine/internal/payment"
)

var transitions = map[domain.LoanStatus]map[domain.LoanStatus]bool{
	domain.StatusPendingCollateral: {domain.StatusActive: true},
	domain.StatusActive: {
		domain.StatusActive:    true,
		domain.StatusPaid:      true,
		domain.StatusDefaulted: true,
	},
}

// CanTransition reports whether from → to is an edge of the state machine.
// Terminal states have no outgoing edges.
func CanTransition(from, to domain.LoanStatus) bool {
	return transitions[from][to]
}

func transition(loan domain.Loan, to domain.LoanStatus, at time.Time) (domain.Loan, error) {
	if loan.Status.Terminal() {
		return loan, fmt.Errorf("%w: loan %s is closed as %s", domain.ErrInvalidState, loan.ID, loan.Status)
	}
	if !CanTransition(loan.Status, to) {
		return loan, fmt.Errorf("%w: loan %s cannot move from %s to %s",
			domain.ErrInvalidState, loan.ID, loan.Status, to)
	}
	next := loan.Clone()
	next.Status = to
	next.Version = loan.Version + 1
	next.UpdatedAt = at
	return next, nil
}

// ConfirmCollateral activates a loan once the custody service reports a
// deposit at least as large as the collateral required at origination. The
// deposited amount becomes the loan's frozen collateral, and the term starts
// at activation so time spent awaiting the deposit is never past due.
func ConfirmCollateral(loan domain.Loan, c domain.EscrowConfirmation, at time.Time) (domain.Loan, error) {
	if c.LoanID != loan.ID {
		return loan, domain.Invalid("confirmation for loan %q applied to loan %q", c.LoanID, loan.ID)
	}
	if strings.TrimSpace(c.TxReference) == "" {
		return loan, domain.Invalid("transaction reference is required")
	}
	if loan.Status != domain.StatusPendingCollateral {
		return loan, fmt.Errorf("%w: loan %s is %s, collateral can only be confirmed while %s",
			domain.ErrInvalidState, loan.ID, loan.Status, domain.StatusPendingCollateral)
	}
	if c.DepositedAmount.LessThan(loan.CollateralAmount) {
		return loan, fmt.Errorf("%w: deposited %s, required %s",
			domain.ErrInsufficientCollateral, c.DepositedAmount.StringFixed(2), loan.CollateralAmount.StringFixed(2))
	}

	next, err := transition(loan, domain.StatusActive, at)
	if err != nil {
		return loan, err
	}
	next.CollateralAmount = c.DepositedAmount
	next.CollateralTxRef = c.TxReference
	due := domain.AddMonths(at, 1)
	next.StartDate = at
	next.NextPaymentDate = &due
	next.EndDate = domain.AddMonths(at, loan.DurationMonths)
	return next, nil
}

// ApplyPayment runs the payment waterfall on an active loan and checks the
// resulting status change against the state machine.
func ApplyPayment(loan domain.Loan, p payment.Payment) (domain.RepaymentRecord, domain.Loan, error) {
	rec, next, err := payment.Allocate(loan, p)
	if err != nil {
		return domain.RepaymentRecord{}, loan, err
	}
	if !CanTransition(loan.Status, next.Status) {
		return domain.RepaymentRecord{}, loan, fmt.Errorf("%w: payment would move loan %s from %s to %s",
			domain.ErrInvalidState, loan.ID, loan.Status, next.Status)
	}
	return rec, next, nil
}

// MarkDefaulted is driven by an external scheduler; the engine does not
// decide on its own that a loan has defaulted.
func MarkDefaulted(loan domain.Loan, at time.Time) (domain.Loan, error) {
	return transition(loan, domain.StatusDefaulted, at)
}

// IsDelinquent reports whether an active loan has a scheduled payment that
// was due before asOf.
func IsDelinquent(loan domain.Loan, asOf time.Time) bool {
	return loan.Status == domain.StatusActive &&
		loan.NextPaymentDate != nil &&
		asOf.After(*loan.NextPaymentDate)
}

// DaysPastDue counts started days since the missed due date.
func DaysPastDue(loan domain.Loan, asOf time.Time) int {
	if !IsDelinquent(loan, asOf) {
		return 0
	}
	return payment.DaysLate(loan.NextPaymentDate, asOf)
}
