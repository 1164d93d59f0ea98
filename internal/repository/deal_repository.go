package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/capraise-ai/be-deals-service/internal/database"
	"github.com/capraise-ai/be-deals-service/internal/errors"
	"github.com/capraise-ai/be-deals-service/internal/status"
)

// DealRepository handles deal data operations.
type DealRepository struct {
	db *database.DB
}

// NewDealRepository creates a new deal repository.
func NewDealRepository(db *database.DB) *DealRepository {
	return &DealRepository{db: db}
}

const dealColumns = `d.id, d.project_name, d.status, d.user_id, d.description,
	       d.created_at, d.updated_at, p.email, p.full_name`

// GetWithSponsor retrieves a deal by ID with its sponsor contact info.
func (r *DealRepository) GetWithSponsor(ctx context.Context, id string) (*Deal, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM deals d
		LEFT JOIN profiles p ON p.user_id = d.user_id
		WHERE d.id = $1
	`

	deal, err := scanDeal(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("deal", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get deal")
	}

	return deal, nil
}

// UpdateStatus conditionally moves a deal from one status to another.
// The WHERE clause carries the expected current status so a concurrent
// transition that already changed the row surfaces as a conflict
// instead of being silently overwritten.
func (r *DealRepository) UpdateStatus(ctx context.Context, id string, from, to status.State) error {
	query := `
		UPDATE deals
		SET status = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.db.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update deal status")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No row matched: either the deal is gone or its status moved
	// underneath us. Distinguish the two for the caller.
	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM deals WHERE id = $1`, id).Scan(&current)
	if err == pgx.ErrNoRows {
		return errors.NotFound("deal", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to re-read deal status")
	}
	return errors.Newf(errors.ErrCodeConflict,
		"deal status changed concurrently: expected %q, found %q", from, current)
}

// List retrieves deals matching the filter, most recently updated
// first, plus the unpaginated total.
func (r *DealRepository) List(ctx context.Context, filter DealFilter) ([]*Deal, int64, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM deals d
		LEFT JOIN profiles p ON p.user_id = d.user_id
		WHERE 1=1
	`
	countQuery := `SELECT COUNT(*) FROM deals d WHERE 1=1`

	args := []interface{}{}
	argCount := 1

	if filter.Status != nil {
		cond := fmt.Sprintf(" AND d.status = $%d", argCount)
		query += cond
		countQuery += cond
		args = append(args, string(*filter.Status))
		argCount++
	}

	if filter.Category != nil {
		states := status.StatesByCategory(*filter.Category)
		raw := make([]string, len(states))
		for i, s := range states {
			raw[i] = string(s)
		}
		cond := fmt.Sprintf(" AND d.status = ANY($%d)", argCount)
		query += cond
		countQuery += cond
		args = append(args, raw)
		argCount++
	}

	if filter.UserID != nil {
		cond := fmt.Sprintf(" AND d.user_id = $%d", argCount)
		query += cond
		countQuery += cond
		args = append(args, *filter.UserID)
		argCount++
	}

	query += " ORDER BY d.updated_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, filter.Limit, filter.Offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count deals")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list deals")
	}
	defer rows.Close()

	deals := make([]*Deal, 0)
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan deal")
		}
		deals = append(deals, deal)
	}

	return deals, total, nil
}

// ListByStatusOlderThan returns deals in the given status whose last
// modification is before the cutoff. Used by the staleness sweep.
func (r *DealRepository) ListByStatusOlderThan(ctx context.Context, st status.State, cutoff time.Time) ([]*Deal, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM deals d
		LEFT JOIN profiles p ON p.user_id = d.user_id
		WHERE d.status = $1 AND d.updated_at < $2
		ORDER BY d.updated_at ASC
	`

	rows, err := r.db.Query(ctx, query, string(st), cutoff)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list stale deals")
	}
	defer rows.Close()

	deals := make([]*Deal, 0)
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan stale deal")
		}
		deals = append(deals, deal)
	}

	return deals, nil
}

// CountByStatus returns the number of deals per status, optionally
// scoped to one sponsor's deals.
func (r *DealRepository) CountByStatus(ctx context.Context, userID *string) (map[status.State]int, error) {
	query := `SELECT status, COUNT(*) FROM deals`
	args := []interface{}{}
	if userID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *userID)
	}
	query += ` GROUP BY status`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to count deals by status")
	}
	defer rows.Close()

	counts := make(map[status.State]int)
	for rows.Next() {
		var raw string
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan deal count")
		}
		counts[status.State(raw)] = n
	}

	return counts, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type dealScanner interface {
	Scan(dest ...any) error
}

func scanDeal(sc dealScanner) (*Deal, error) {
	deal := &Deal{}
	var rawStatus string
	var email, fullName *string

	err := sc.Scan(
		&deal.ID,
		&deal.ProjectName,
		&rawStatus,
		&deal.UserID,
		&deal.Description,
		&deal.CreatedAt,
		&deal.UpdatedAt,
		&email,
		&fullName,
	)
	if err != nil {
		return nil, err
	}

	deal.Status = status.State(rawStatus)

	// Normalize the joined profile: a missing row becomes nil, a
	// partial row keeps whatever fields were present.
	if email != nil || fullName != nil {
		deal.Sponsor = &SponsorProfile{}
		if email != nil {
			deal.Sponsor.Email = *email
		}
		if fullName != nil {
			deal.Sponsor.FullName = *fullName
		}
	}

	return deal, nil
}
