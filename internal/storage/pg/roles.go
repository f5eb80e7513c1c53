package pg

import (
	"context"
	"fmt"
)

// ResolveAudience returns the user ids holding the given role. Roles are
// written by the storefront's admin surface; the engine only reads them.
func (st *Store) ResolveAudience(ctx context.Context, role string) ([]string, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT user_id FROM user_roles WHERE role = $1`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audience %q: %w", role, err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}
