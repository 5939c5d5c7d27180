package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wakala/loanengine/internal/domain"
)

const loanColumns = `id, borrower_id, borrower_wallet, collateral_asset, principal_amount,
	interest_rate, duration_months, monthly_payment, total_amount, collateral_amount,
	collateral_ratio, loan_to_value, collateral_tx_ref, remaining_balance, interest_accrued,
	late_fees, status, start_date, next_payment_date, end_date, snapshot_market_cap,
	snapshot_unit_price, snapshot_total_supply, snapshot_holder_count, snapshot_observed_at,
	version, created_at, updated_at`

type LoanRepo struct {
	db *sql.DB
}

func NewLoanRepo(db *sql.DB) *LoanRepo {
	return &LoanRepo{db: db}
}

func (r *LoanRepo) Insert(ctx context.Context, l domain.Loan) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.BorrowerID, l.BorrowerWallet, l.CollateralAsset, l.PrincipalAmount,
		l.InterestRate, l.DurationMonths, l.MonthlyPayment, l.TotalAmount, l.CollateralAmount,
		l.CollateralRatio, l.LoanToValue, l.CollateralTxRef, l.RemainingBalance, l.InterestAccrued,
		l.LateFees, string(l.Status), formatTime(l.StartDate), formatNullableTime(l.NextPaymentDate),
		formatTime(l.EndDate), l.Collateral.MarketCap, l.Collateral.UnitPrice, l.Collateral.TotalSupply,
		l.Collateral.HolderCount, formatTime(l.Collateral.ObservedAt),
		l.Version, formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

func (r *LoanRepo) Get(ctx context.Context, id string) (domain.Loan, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+loanColumns+" FROM loans WHERE id = ?", id)
	l, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Loan{}, fmt.Errorf("%w: loan %s", domain.ErrNotFound, id)
	}
	return l, err
}

// CommitPayment stores the loan snapshot produced by a repayment together with
// its ledger record and any custody intents. The loan row is only replaced if
// its version still equals expectedVersion.
func (r *LoanRepo) CommitPayment(ctx context.Context, next domain.Loan, expectedVersion int64,
	rec domain.RepaymentRecord, intents []domain.CustodyIntent,
) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateLoan(ctx, tx, next, expectedVersion); err != nil {
			return err
		}
		if err := insertRepayment(ctx, tx, rec); err != nil {
			return err
		}
		return insertIntents(ctx, tx, intents)
	})
}

// CommitTransition stores a lifecycle transition and its custody intents.
func (r *LoanRepo) CommitTransition(ctx context.Context, next domain.Loan, expectedVersion int64,
	intents []domain.CustodyIntent,
) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateLoan(ctx, tx, next, expectedVersion); err != nil {
			return err
		}
		return insertIntents(ctx, tx, intents)
	})
}

func (r *LoanRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// updateLoan writes only the columns a lifecycle or repayment may change.
// Origination terms, collateral ratio and loan-to-value are never rewritten.
func updateLoan(ctx context.Context, tx *sql.Tx, l domain.Loan, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE loans SET
			collateral_amount = ?, collateral_tx_ref = ?, remaining_balance = ?,
			interest_accrued = ?, late_fees = ?, status = ?, start_date = ?,
			next_payment_date = ?, end_date = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		l.CollateralAmount, l.CollateralTxRef, l.RemainingBalance,
		l.InterestAccrued, l.LateFees, string(l.Status), formatTime(l.StartDate),
		formatNullableTime(l.NextPaymentDate), formatTime(l.EndDate), l.Version, formatTime(l.UpdatedAt),
		l.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update loan %s: %w", l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update loan %s: %w", l.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: loan %s is no longer at version %d", domain.ErrVersionConflict, l.ID, expectedVersion)
	}
	return nil
}

type LoanFilter struct {
	BorrowerID string
	Status     string
	Page       int
	Limit      int
}

func (r *LoanRepo) List(ctx context.Context, f LoanFilter) ([]domain.Loan, int, error) {
	where, args := buildLoanWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM loans"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	q := "SELECT " + loanColumns + " FROM loans" + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	loans, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return loans, total, nil
}

// ListOverdue returns active loans whose next payment was due before asOf.
func (r *LoanRepo) ListOverdue(ctx context.Context, asOf time.Time) ([]domain.Loan, error) {
	return r.query(ctx,
		"SELECT "+loanColumns+" FROM loans WHERE status = ? AND next_payment_date < ? ORDER BY next_payment_date",
		string(domain.StatusActive), formatTime(asOf),
	)
}

func (r *LoanRepo) query(ctx context.Context, q string, args ...any) ([]domain.Loan, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var loans []domain.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

func buildLoanWhere(f LoanFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.BorrowerID != "" {
		clauses = append(clauses, "borrower_id = ?")
		args = append(args, f.BorrowerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, strings.ToUpper(f.Status))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanLoan(s scanner) (domain.Loan, error) {
	var l domain.Loan
	var status, start, end, observed, created, updated string
	var next sql.NullString

	err := s.Scan(
		&l.ID, &l.BorrowerID, &l.BorrowerWallet, &l.CollateralAsset, &l.PrincipalAmount,
		&l.InterestRate, &l.DurationMonths, &l.MonthlyPayment, &l.TotalAmount, &l.CollateralAmount,
		&l.CollateralRatio, &l.LoanToValue, &l.CollateralTxRef, &l.RemainingBalance, &l.InterestAccrued,
		&l.LateFees, &status, &start, &next, &end, &l.Collateral.MarketCap,
		&l.Collateral.UnitPrice, &l.Collateral.TotalSupply, &l.Collateral.HolderCount, &observed,
		&l.Version, &created, &updated,
	)
	if err != nil {
		return domain.Loan{}, err
	}

	l.Status = domain.LoanStatus(status)
	l.Collateral.Asset = l.CollateralAsset
	if l.NextPaymentDate, err = parseNullableTime(next); err != nil {
		return domain.Loan{}, err
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&l.StartDate, start}, {&l.EndDate, end}, {&l.Collateral.ObservedAt, observed},
		{&l.CreatedAt, created}, {&l.UpdatedAt, updated},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return domain.Loan{}, err
		}
	}
	return l, nil
}
