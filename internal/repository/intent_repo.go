package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wakala/loanengine/internal/domain"
)

type IntentRepo struct {
	db *sql.DB
}

func NewIntentRepo(db *sql.DB) *IntentRepo {
	return &IntentRepo{db: db}
}

func (r *IntentRepo) ListByLoan(ctx context.Context, loanID string) ([]domain.CustodyIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, loan_id, kind, asset, amount, to_address, created_at
		FROM custody_intents WHERE loan_id = ? ORDER BY created_at`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.CustodyIntent
	for rows.Next() {
		var in domain.CustodyIntent
		var kind, created string
		if err := rows.Scan(&in.ID, &in.LoanID, &kind, &in.Asset, &in.Amount, &in.ToAddress, &created); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		in.Kind = domain.IntentKind(kind)
		if in.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func insertIntents(ctx context.Context, tx *sql.Tx, intents []domain.CustodyIntent) error {
	if len(intents) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO custody_intents (id, loan_id, kind, asset, amount, to_address, created_at)
		VALUES (?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, in := range intents {
		if _, err := stmt.ExecContext(ctx,
			in.ID, in.LoanID, string(in.Kind), in.Asset, in.Amount, in.ToAddress, formatTime(in.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert intent %s: %w", in.ID, err)
		}
	}
	return nil
}
