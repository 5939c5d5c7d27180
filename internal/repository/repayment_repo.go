package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wakala/loanengine/internal/domain"
)

const repaymentColumns = `id, loan_id, payer_id, amount, principal_component, interest_component,
	late_fee_component, unapplied, days_late, due_date, payment_date, status, balance_after`

type RepaymentRepo struct {
	db *sql.DB
}

func NewRepaymentRepo(db *sql.DB) *RepaymentRepo {
	return &RepaymentRepo{db: db}
}

// ListByLoan returns the ledger for a loan in payment order.
func (r *RepaymentRepo) ListByLoan(ctx context.Context, loanID string) ([]domain.RepaymentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+repaymentColumns+" FROM repayments WHERE loan_id = ? ORDER BY payment_date, rowid",
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.RepaymentRecord
	for rows.Next() {
		var rec domain.RepaymentRecord
		var status, paid string
		var due sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.LoanID, &rec.PayerID, &rec.Amount, &rec.PrincipalComponent,
			&rec.InterestComponent, &rec.LateFeeComponent, &rec.Unapplied, &rec.DaysLate,
			&due, &paid, &status, &rec.BalanceAfter,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec.Status = domain.RepaymentStatus(status)
		if rec.DueDate, err = parseNullableTime(due); err != nil {
			return nil, err
		}
		if rec.PaymentDate, err = parseTime(paid); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func insertRepayment(ctx context.Context, tx *sql.Tx, rec domain.RepaymentRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO repayments (`+repaymentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.LoanID, rec.PayerID, rec.Amount, rec.PrincipalComponent,
		rec.InterestComponent, rec.LateFeeComponent, rec.Unapplied, rec.DaysLate,
		formatNullableTime(rec.DueDate), formatTime(rec.PaymentDate), string(rec.Status), rec.BalanceAfter,
	)
	if err != nil {
		return fmt.Errorf("insert repayment %s: %w", rec.ID, err)
	}
	return nil
}
