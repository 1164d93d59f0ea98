package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/capraise-ai/be-deals-service/internal/database"
	"github.com/capraise-ai/be-deals-service/internal/errors"
)

// TimelineRepository appends and reads immutable deal timeline entries.
// The table has a delete-prevention trigger, so Append is the only
// mutation operation exposed.
type TimelineRepository struct {
	db *database.DB
}

// NewTimelineRepository creates a new TimelineRepository.
func NewTimelineRepository(db *database.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

// Append inserts one timeline entry.
func (r *TimelineRepository) Append(ctx context.Context, entry *TimelineEntry) error {
	query := `
		INSERT INTO deal_timeline (deal_id, milestone, completed, completed_at, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.DealID,
		entry.Milestone,
		entry.Completed,
		entry.CompletedAt,
		entry.Notes,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append timeline entry")
	}

	return nil
}

// GetByDealID returns a deal's full timeline ordered oldest-first.
func (r *TimelineRepository) GetByDealID(ctx context.Context, dealID string) ([]*TimelineEntry, error) {
	query := `
		SELECT id, deal_id, milestone, completed, completed_at, notes, created_at
		FROM deal_timeline
		WHERE deal_id = $1
		ORDER BY completed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, dealID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get deal timeline")
	}
	defer rows.Close()

	entries := make([]*TimelineEntry, 0)
	for rows.Next() {
		entry := &TimelineEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.DealID,
			&entry.Milestone,
			&entry.Completed,
			&entry.CompletedAt,
			&entry.Notes,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan timeline entry")
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// RecentWithProjectName returns the most recent entries across the
// scope, newest first, annotated with each deal's project and sponsor
// names. The joins are LEFT so an entry whose deal or profile no
// longer resolves still comes back, with empty names.
func (r *TimelineRepository) RecentWithProjectName(ctx context.Context, limit int, userID *string) ([]*TimelineActivity, error) {
	query := `
		SELECT t.id, t.deal_id, t.milestone, t.completed, t.completed_at, t.notes, t.created_at,
		       COALESCE(d.project_name, ''), COALESCE(p.full_name, '')
		FROM deal_timeline t
		LEFT JOIN deals d ON d.id = t.deal_id
		LEFT JOIN profiles p ON p.user_id = d.user_id
	`

	args := []interface{}{}
	argCount := 1

	if userID != nil {
		query += ` WHERE d.user_id = $1`
		args = append(args, *userID)
		argCount++
	}

	query += ` ORDER BY t.completed_at DESC, t.id DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argCount)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get recent activity")
	}
	defer rows.Close()

	return scanActivities(rows)
}

func scanActivities(rows pgx.Rows) ([]*TimelineActivity, error) {
	entries := make([]*TimelineActivity, 0)
	for rows.Next() {
		entry := &TimelineActivity{}
		err := rows.Scan(
			&entry.ID,
			&entry.DealID,
			&entry.Milestone,
			&entry.Completed,
			&entry.CompletedAt,
			&entry.Notes,
			&entry.CreatedAt,
			&entry.ProjectName,
			&entry.SponsorName,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan activity entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
