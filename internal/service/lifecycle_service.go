package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/capraise-ai/be-deals-service/internal/errors"
	"github.com/capraise-ai/be-deals-service/internal/repository"
	"github.com/capraise-ai/be-deals-service/internal/status"
)

// notifyTimeout bounds each post-commit notification dispatch so a
// slow broker cannot stall the caller.
const notifyTimeout = 5 * time.Second

// recentActivityLimit is the number of timeline entries returned by
// ActivitySummary.
const recentActivityLimit = 10

// DealStore is the durable-store surface the lifecycle engine needs.
// Implemented by repository.DealRepository; swapped for in-memory
// fakes in tests.
type DealStore interface {
	GetWithSponsor(ctx context.Context, id string) (*repository.Deal, error)
	// UpdateStatus must be conditional on the expected current status
	// and return a CONFLICT-coded error when the row moved underneath
	// the caller.
	UpdateStatus(ctx context.Context, id string, from, to status.State) error
	ListByStatusOlderThan(ctx context.Context, st status.State, cutoff time.Time) ([]*repository.Deal, error)
	CountByStatus(ctx context.Context, userID *string) (map[status.State]int, error)
	List(ctx context.Context, filter repository.DealFilter) ([]*repository.Deal, int64, error)
}

// TimelineStore appends and reads the immutable transition audit trail.
type TimelineStore interface {
	Append(ctx context.Context, entry *repository.TimelineEntry) error
	GetByDealID(ctx context.Context, dealID string) ([]*repository.TimelineEntry, error)
	RecentWithProjectName(ctx context.Context, limit int, userID *string) ([]*repository.TimelineActivity, error)
}

// Notifier is the fire-and-forget notification sink. Implementations
// log their own failures and never return errors.
type Notifier interface {
	StatusChanged(ctx context.Context, dealID, projectName, statusLabel string)
	DealApproved(ctx context.Context, dealID, projectName string)
	ClosingMilestone(ctx context.Context, dealID, projectName, milestone, stage string)
	SendSponsorEmail(ctx context.Context, email, fullName, projectName, dealID string)
}

// LifecycleService is the only component permitted to change a deal's
// persisted status. It coordinates validation, persistence, audit
// logging and notification.
type LifecycleService struct {
	deals    DealStore
	timeline TimelineStore
	notifier Notifier
	log      *zerolog.Logger
	now      func() time.Time
}

// NewLifecycleService creates a new lifecycle service.
func NewLifecycleService(
	deals DealStore,
	timeline TimelineStore,
	notifier Notifier,
	log *zerolog.Logger,
) *LifecycleService {
	return &LifecycleService{
		deals:    deals,
		timeline: timeline,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// TransitionRequest carries one requested status change.
type TransitionRequest struct {
	DealID       string
	Target       status.State
	ActingUserID string
	ActingRole   status.Role
	Note         *string
}

// TransitionResult reports an accepted status change.
type TransitionResult struct {
	DealID      string       `json:"deal_id"`
	ProjectName string       `json:"project_name"`
	From        status.State `json:"from"`
	To          status.State `json:"to"`
	Action      string       `json:"action"`
	CompletedAt time.Time    `json:"completed_at"`
}

// TransitionDeal moves a deal to the target status.
//
// Validation failures (deal missing, transition not allowed for the
// acting role) block all effects. Once the conditional status update
// commits, the transition is authoritative: the timeline append and
// the notifications are best-effort decoration and can only produce
// warnings, never a failed result.
func (s *LifecycleService) TransitionDeal(ctx context.Context, req *TransitionRequest) (*TransitionResult, error) {
	deal, err := s.deals.GetWithSponsor(ctx, req.DealID)
	if err != nil {
		return nil, err
	}
	current := deal.Status

	if !status.CanTransition(current, req.Target, req.ActingRole) {
		return nil, errors.Newf(errors.ErrCodeInvalidTransition,
			"cannot move deal from %q to %q as %s",
			status.Label(current), status.Label(req.Target), req.ActingRole)
	}

	if err := s.deals.UpdateStatus(ctx, req.DealID, current, req.Target); err != nil {
		return nil, err
	}

	action := status.TransitionActionLabel(current, req.Target)
	completedAt := s.now()

	entry := &repository.TimelineEntry{
		DealID:      req.DealID,
		Milestone:   action,
		Completed:   true,
		CompletedAt: completedAt,
		Notes:       req.Note,
	}
	if err := s.timeline.Append(ctx, entry); err != nil {
		// The status change is already durable; the timeline is audit
		// decoration, not a consistency boundary.
		s.log.Warn().Err(err).
			Str("deal_id", req.DealID).
			Str("action", action).
			Msg("Failed to append timeline entry")
	}

	s.dispatchNotifications(ctx, deal, req.Target)

	s.log.Info().
		Str("deal_id", req.DealID).
		Str("project_name", deal.ProjectName).
		Str("from", string(current)).
		Str("to", string(req.Target)).
		Str("acting_user", req.ActingUserID).
		Str("acting_role", string(req.ActingRole)).
		Msg("Deal transitioned")

	return &TransitionResult{
		DealID:      req.DealID,
		ProjectName: deal.ProjectName,
		From:        current,
		To:          req.Target,
		Action:      action,
		CompletedAt: completedAt,
	}, nil
}

// dispatchNotifications fires the target-state-specific notifications.
// Each dispatch is independent and time-bounded; the parent context's
// cancellation is detached because the transition is already committed.
func (s *LifecycleService) dispatchNotifications(ctx context.Context, deal *repository.Deal, target status.State) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	id, project := deal.ID, deal.ProjectName

	switch target {
	case status.UnderReview:
		s.notifier.StatusChanged(nctx, id, project, "Under Review")
	case status.NeedsInfo:
		s.notifier.StatusChanged(nctx, id, project, "Needs Information")
	case status.Approved:
		s.notifier.DealApproved(nctx, id, project)
		if deal.Sponsor != nil && deal.Sponsor.Email != "" {
			s.notifier.SendSponsorEmail(nctx, deal.Sponsor.Email, deal.Sponsor.FullName, project, id)
		} else {
			s.log.Warn().Str("deal_id", id).Msg("No sponsor contact on deal, skipping approval email")
		}
	case status.Available:
		s.notifier.StatusChanged(nctx, id, project, "Live on Marketplace")
	case status.InDiscussions:
		s.notifier.StatusChanged(nctx, id, project, "In Discussions")
	case status.TermSheet:
		s.notifier.ClosingMilestone(nctx, id, project, "Term Sheet", "Issued")
	case status.Closing:
		s.notifier.ClosingMilestone(nctx, id, project, "Closing", "In Progress")
	case status.Funded:
		s.notifier.ClosingMilestone(nctx, id, project, "Funding", "Complete")
	case status.Declined:
		s.notifier.StatusChanged(nctx, id, project, "Declined")
	case status.Expired:
		s.notifier.StatusChanged(nctx, id, project, "Expired")
	}
	// draft, submitted and withdrawn are silent.
}

// BulkApproveResult partitions a batch approval outcome.
type BulkApproveResult struct {
	Approved []string             `json:"approved"`
	Failed   []BulkApproveFailure `json:"failed"`
}

// BulkApproveFailure names one deal that could not be approved.
type BulkApproveFailure struct {
	DealID string `json:"deal_id"`
	Reason string `json:"reason"`
}

// BulkApprove approves each deal independently as admin. One deal's
// failure never aborts processing of the remaining ids.
func (s *LifecycleService) BulkApprove(ctx context.Context, dealIDs []string, actingUserID string) *BulkApproveResult {
	result := &BulkApproveResult{
		Approved: make([]string, 0, len(dealIDs)),
		Failed:   make([]BulkApproveFailure, 0),
	}

	for _, id := range dealIDs {
		_, err := s.TransitionDeal(ctx, &TransitionRequest{
			DealID:       id,
			Target:       status.Approved,
			ActingUserID: actingUserID,
			ActingRole:   status.RoleAdmin,
		})
		if err != nil {
			result.Failed = append(result.Failed, BulkApproveFailure{DealID: id, Reason: err.Error()})
			continue
		}
		result.Approved = append(result.Approved, id)
	}

	s.log.Info().
		Int("approved", len(result.Approved)).
		Int("failed", len(result.Failed)).
		Str("acting_user", actingUserID).
		Msg("Bulk approval completed")

	return result
}

// ExpireStaleDeals transitions marketplace listings untouched for more
// than daysInactive days to expired. This is a maintenance sweep: a
// deal that fails to update is logged and excluded from the result,
// never escalated.
func (s *LifecycleService) ExpireStaleDeals(ctx context.Context, daysInactive int) ([]string, error) {
	cutoff := s.now().AddDate(0, 0, -daysInactive)

	stale, err := s.deals.ListByStatusOlderThan(ctx, status.Available, cutoff)
	if err != nil {
		return nil, err
	}

	expired := make([]string, 0, len(stale))
	for _, deal := range stale {
		_, err := s.TransitionDeal(ctx, &TransitionRequest{
			DealID:       deal.ID,
			Target:       status.Expired,
			ActingUserID: "system",
			ActingRole:   status.RoleAdmin,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("deal_id", deal.ID).Msg("Failed to expire stale deal")
			continue
		}
		expired = append(expired, deal.ID)
	}

	if len(expired) > 0 {
		s.log.Info().
			Int("expired", len(expired)).
			Int("days_inactive", daysInactive).
			Msg("Stale deals expired")
	}

	return expired, nil
}

// ActivitySummary is a read-only aggregation for dashboards.
type ActivitySummary struct {
	DealCounts     map[status.State]int `json:"deal_counts"`
	TotalDeals     int                  `json:"total_deals"`
	RecentActivity []ActivityItem       `json:"recent_activity"`
}

// ActivityItem is one recent timeline entry annotated for display.
type ActivityItem struct {
	DealID      string    `json:"deal_id"`
	ProjectName string    `json:"project_name"`
	SponsorName string    `json:"sponsor_name"`
	Milestone   string    `json:"milestone"`
	CompletedAt time.Time `json:"completed_at"`
	Notes       *string   `json:"notes,omitempty"`
}

// ActivitySummary returns deal counts per state plus the most recent
// timeline entries, optionally scoped to one user's deals. Missing
// related-entity data degrades to placeholder labels, never an error.
func (s *LifecycleService) ActivitySummary(ctx context.Context, userID *string) (*ActivitySummary, error) {
	counts, err := s.deals.CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	recent, err := s.timeline.RecentWithProjectName(ctx, recentActivityLimit, userID)
	if err != nil {
		return nil, err
	}

	items := make([]ActivityItem, 0, len(recent))
	for _, entry := range recent {
		item := ActivityItem{
			DealID:      entry.DealID,
			ProjectName: entry.ProjectName,
			SponsorName: entry.SponsorName,
			Milestone:   entry.Milestone,
			CompletedAt: entry.CompletedAt,
			Notes:       entry.Notes,
		}
		if item.ProjectName == "" {
			item.ProjectName = "Unknown"
		}
		if item.SponsorName == "" {
			item.SponsorName = "Unknown Sponsor"
		}
		items = append(items, item)
	}

	return &ActivitySummary{
		DealCounts:     counts,
		TotalDeals:     total,
		RecentActivity: items,
	}, nil
}

// GetDeal retrieves a deal with its sponsor contact.
func (s *LifecycleService) GetDeal(ctx context.Context, id string) (*repository.Deal, error) {
	return s.deals.GetWithSponsor(ctx, id)
}

// ListDeals lists deals with filtering and pagination.
func (s *LifecycleService) ListDeals(ctx context.Context, filter repository.DealFilter) ([]*repository.Deal, int64, error) {
	return s.deals.List(ctx, filter)
}

// GetTimeline returns a deal's audit trail, oldest first. The deal is
// looked up first so a missing id reports NOT_FOUND rather than an
// empty list.
func (s *LifecycleService) GetTimeline(ctx context.Context, dealID string) ([]*repository.TimelineEntry, error) {
	if _, err := s.deals.GetWithSponsor(ctx, dealID); err != nil {
		return nil, err
	}
	return s.timeline.GetByDealID(ctx, dealID)
}

// AvailableTransition pairs a reachable state with its action label
// for transition menus.
type AvailableTransition struct {
	Target status.State `json:"target"`
	Label  string       `json:"label"`
	Action string       `json:"action"`
}

// AvailableTransitions returns the transitions the given role may
// perform on a deal right now.
func (s *LifecycleService) AvailableTransitions(ctx context.Context, dealID string, role status.Role) ([]AvailableTransition, error) {
	deal, err := s.deals.GetWithSponsor(ctx, dealID)
	if err != nil {
		return nil, err
	}

	targets := status.ValidTransitions(deal.Status, role)
	out := make([]AvailableTransition, 0, len(targets))
	for _, target := range targets {
		out = append(out, AvailableTransition{
			Target: target,
			Label:  status.Label(target),
			Action: status.TransitionActionLabel(deal.Status, target),
		})
	}
	return out, nil
}
