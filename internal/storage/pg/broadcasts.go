package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const broadcastColumns = `id, title, body, url, image_url, audience, preference_filter,
	status, scheduled_at, sent_count, failed_count, created_at, completed_at`

func scanBroadcast(row interface{ Scan(...any) error }) (BroadcastJob, error) {
	var j BroadcastJob
	err := row.Scan(
		&j.ID, &j.Title, &j.Body, &j.URL, &j.ImageURL, &j.Audience, &j.PreferenceFilter,
		&j.Status, &j.ScheduledAt, &j.SentCount, &j.FailedCount, &j.CreatedAt, &j.CompletedAt,
	)
	return j, err
}

// CreateBroadcastJob schedules a broadcast.
func (st *Store) CreateBroadcastJob(ctx context.Context, params CreateBroadcastParams) (BroadcastJob, error) {
	var url, imageURL, preferenceFilter any
	if params.URL != "" {
		url = params.URL
	}
	if params.ImageURL != "" {
		imageURL = params.ImageURL
	}
	if params.PreferenceFilter != "" {
		preferenceFilter = params.PreferenceFilter
	}

	row := st.db.QueryRowContext(ctx, `
		INSERT INTO broadcast_jobs (title, body, url, image_url, audience, preference_filter, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+broadcastColumns,
		params.Title, params.Body, url, imageURL, params.Audience, preferenceFilter, params.ScheduledAt,
	)

	j, err := scanBroadcast(row)
	if err != nil {
		return BroadcastJob{}, fmt.Errorf("failed to create broadcast job: %w", err)
	}
	return j, nil
}

// GetBroadcastJob fetches one job by id.
func (st *Store) GetBroadcastJob(ctx context.Context, id uuid.UUID) (BroadcastJob, error) {
	row := st.db.QueryRowContext(ctx, `
		SELECT `+broadcastColumns+` FROM broadcast_jobs WHERE id = $1`, id)

	j, err := scanBroadcast(row)
	if err != nil {
		return BroadcastJob{}, fmt.Errorf("failed to get broadcast job: %w", err)
	}
	return j, nil
}

// ClaimDueBroadcasts atomically transitions every due scheduled job to
// sending and returns the claimed set. A job can only be claimed once,
// which is the double-send guard for overlapping scheduler ticks.
func (st *Store) ClaimDueBroadcasts(ctx context.Context, now time.Time) ([]BroadcastJob, error) {
	rows, err := st.db.QueryContext(ctx, `
		UPDATE broadcast_jobs
		SET status = 'sending'
		WHERE status = 'scheduled' AND scheduled_at <= $1
		RETURNING `+broadcastColumns,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due broadcasts: %w", err)
	}
	defer rows.Close()

	var jobs []BroadcastJob
	for rows.Next() {
		j, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ReleaseBroadcast returns a claimed job to scheduled so a later tick can
// retry it. Used when the dispatch for a claimed job fails before any
// sends happen; without the release the job would be stranded in sending.
func (st *Store) ReleaseBroadcast(ctx context.Context, id uuid.UUID) error {
	if _, err := st.db.ExecContext(ctx, `
		UPDATE broadcast_jobs
		SET status = 'scheduled'
		WHERE id = $1 AND status = 'sending'`,
		id,
	); err != nil {
		return fmt.Errorf("failed to release broadcast: %w", err)
	}
	return nil
}

// FinalizeBroadcast writes the aggregate counts and moves the job to sent.
// The status guard makes the transition happen exactly once.
func (st *Store) FinalizeBroadcast(ctx context.Context, id uuid.UUID, sent, failed int) error {
	res, err := st.db.ExecContext(ctx, `
		UPDATE broadcast_jobs
		SET status = 'sent', sent_count = $2, failed_count = $3, completed_at = now()
		WHERE id = $1 AND status = 'sending'`,
		id, sent, failed,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize broadcast: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("broadcast %s was not in sending state: %w", id, sql.ErrNoRows)
	}
	return nil
}
