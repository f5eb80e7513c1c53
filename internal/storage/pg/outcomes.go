package pg

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendOutcome writes one delivery log entry. The log is append-only;
// there are no update or delete paths.
func (st *Store) AppendOutcome(ctx context.Context, params OutcomeParams) error {
	var errDetail sql.NullString
	if params.Error != "" {
		errDetail = sql.NullString{String: params.Error, Valid: true}
	}

	if _, err := st.db.ExecContext(ctx, `
		INSERT INTO delivery_log (subscription_id, user_id, endpoint, category, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		params.SubscriptionID, params.UserID, params.Endpoint, params.Category, params.Status, errDetail,
	); err != nil {
		return fmt.Errorf("failed to append delivery outcome: %w", err)
	}
	return nil
}
