package pg

import (
	"context"
	"fmt"
	"time"
)

// DeliveredRevenueOn sums the totals of orders delivered on the given day.
// Orders refunded after delivery still count: the summary is a same-day
// snapshot, not an accounting report.
func (st *Store) DeliveredRevenueOn(ctx context.Context, day time.Time) (float64, error) {
	var revenue float64
	err := st.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0)
		FROM orders
		WHERE status = 'delivered' AND delivered_at::date = $1::date`,
		day,
	).Scan(&revenue)
	if err != nil {
		return 0, fmt.Errorf("failed to sum delivered revenue: %w", err)
	}
	return revenue, nil
}

// ExpensesOn sums expenses recorded on the given day.
func (st *Store) ExpensesOn(ctx context.Context, day time.Time) (float64, error) {
	var expenses float64
	err := st.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM expenses
		WHERE spent_at::date = $1::date`,
		day,
	).Scan(&expenses)
	if err != nil {
		return 0, fmt.Errorf("failed to sum expenses: %w", err)
	}
	return expenses, nil
}

// ClaimSummaryRun records that the profit summary fired for the given day.
// Returns false when another tick already claimed it.
func (st *Store) ClaimSummaryRun(ctx context.Context, day time.Time) (bool, error) {
	res, err := st.db.ExecContext(ctx, `
		INSERT INTO summary_runs (run_date) VALUES ($1::date)
		ON CONFLICT (run_date) DO NOTHING`,
		day,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim summary run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
