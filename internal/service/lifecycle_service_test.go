package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capraise-ai/be-deals-service/internal/errors"
	"github.com/capraise-ai/be-deals-service/internal/repository"
	"github.com/capraise-ai/be-deals-service/internal/status"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeDealStore struct {
	deals     map[string]*repository.Deal
	updateErr map[string]error // per-deal injected UpdateStatus failure
}

func newFakeDealStore(deals ...*repository.Deal) *fakeDealStore {
	f := &fakeDealStore{
		deals:     make(map[string]*repository.Deal),
		updateErr: make(map[string]error),
	}
	for _, d := range deals {
		f.deals[d.ID] = d
	}
	return f
}

func (f *fakeDealStore) GetWithSponsor(_ context.Context, id string) (*repository.Deal, error) {
	d, ok := f.deals[id]
	if !ok {
		return nil, errors.NotFound("deal", id)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDealStore) UpdateStatus(_ context.Context, id string, from, to status.State) error {
	if err := f.updateErr[id]; err != nil {
		return err
	}
	d, ok := f.deals[id]
	if !ok {
		return errors.NotFound("deal", id)
	}
	if d.Status != from {
		return errors.Newf(errors.ErrCodeConflict,
			"deal status changed concurrently: expected %q, found %q", from, d.Status)
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	return nil
}

func (f *fakeDealStore) ListByStatusOlderThan(_ context.Context, st status.State, cutoff time.Time) ([]*repository.Deal, error) {
	var out []*repository.Deal
	for _, d := range f.deals {
		if d.Status == st && d.UpdatedAt.Before(cutoff) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDealStore) CountByStatus(_ context.Context, userID *string) (map[status.State]int, error) {
	counts := make(map[status.State]int)
	for _, d := range f.deals {
		if userID != nil && d.UserID != *userID {
			continue
		}
		counts[d.Status]++
	}
	return counts, nil
}

func (f *fakeDealStore) List(_ context.Context, filter repository.DealFilter) ([]*repository.Deal, int64, error) {
	var out []*repository.Deal
	for _, d := range f.deals {
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.UserID != nil && d.UserID != *filter.UserID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

type fakeTimelineStore struct {
	entries    []*repository.TimelineEntry
	activities []*repository.TimelineActivity
	appendErr  error
}

func (f *fakeTimelineStore) Append(_ context.Context, entry *repository.TimelineEntry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	cp := *entry
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now()
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeTimelineStore) GetByDealID(_ context.Context, dealID string) ([]*repository.TimelineEntry, error) {
	var out []*repository.TimelineEntry
	for _, e := range f.entries {
		if e.DealID == dealID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeTimelineStore) RecentWithProjectName(_ context.Context, limit int, _ *string) ([]*repository.TimelineActivity, error) {
	if len(f.activities) > limit {
		return f.activities[:limit], nil
	}
	return f.activities, nil
}

type milestoneCall struct {
	milestone, stage string
}

type recordingNotifier struct {
	statusLabels []string
	approvals    []string
	milestones   []milestoneCall
	emails       []string
}

func (n *recordingNotifier) StatusChanged(_ context.Context, _, _, label string) {
	n.statusLabels = append(n.statusLabels, label)
}

func (n *recordingNotifier) DealApproved(_ context.Context, dealID, _ string) {
	n.approvals = append(n.approvals, dealID)
}

func (n *recordingNotifier) ClosingMilestone(_ context.Context, _, _, milestone, stage string) {
	n.milestones = append(n.milestones, milestoneCall{milestone, stage})
}

func (n *recordingNotifier) SendSponsorEmail(_ context.Context, email, _, _, _ string) {
	n.emails = append(n.emails, email)
}

func (n *recordingNotifier) total() int {
	return len(n.statusLabels) + len(n.approvals) + len(n.milestones) + len(n.emails)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func testDeal(id string, st status.State) *repository.Deal {
	return &repository.Deal{
		ID:          id,
		ProjectName: "Riverside Mixed-Use",
		Status:      st,
		UserID:      "user-1",
		Sponsor:     &repository.SponsorProfile{Email: "sponsor@example.com", FullName: "Ada Sponsor"},
		CreatedAt:   time.Now().Add(-72 * time.Hour),
		UpdatedAt:   time.Now().Add(-24 * time.Hour),
	}
}

func newTestService(deals *fakeDealStore, timeline *fakeTimelineStore, notifier *recordingNotifier) *LifecycleService {
	log := zerolog.Nop()
	return NewLifecycleService(deals, timeline, notifier, &log)
}

// ── TransitionDeal ───────────────────────────────────────────────────────────

func TestTransitionDealHappyPathToFunded(t *testing.T) {
	deals := newFakeDealStore(testDeal("deal-1", status.Draft))
	timeline := &fakeTimelineStore{}
	notifier := &recordingNotifier{}
	svc := newTestService(deals, timeline, notifier)

	path := []status.State{
		status.Submitted, status.UnderReview, status.Approved, status.Available,
		status.InDiscussions, status.TermSheet, status.Closing, status.Funded,
	}

	for _, target := range path {
		result, err := svc.TransitionDeal(context.Background(), &TransitionRequest{
			DealID:       "deal-1",
			Target:       target,
			ActingUserID: "admin-1",
			ActingRole:   status.RoleAdmin,
		})
		require.NoError(t, err, "transition to %s", target)
		assert.Equal(t, target, result.To)
	}

	assert.Equal(t, status.Funded, deals.deals["deal-1"].Status)

	require.Len(t, timeline.entries, 8)
	wantActions := []string{
		"Submit for Review", "Begin Review", "Approve", "List on Marketplace",
		"Enter Discussions", "Issue Term Sheet", "Begin Closing", "Complete Funding",
	}
	for i, entry := range timeline.entries {
		assert.Equal(t, wantActions[i], entry.Milestone)
		assert.True(t, entry.Completed)
		assert.Equal(t, "deal-1", entry.DealID)
	}
}

func TestTransitionDealRejectsStateSkip(t *testing.T) {
	deals := newFakeDealStore(testDeal("deal-1", status.Draft))
	timeline := &fakeTimelineStore{}
	notifier := &recordingNotifier{}
	svc := newTestService(deals, timeline, notifier)

	_, err := svc.TransitionDeal(context.Background(), &TransitionRequest{
		DealID:       "deal-1",
		Target:       status.Approved,
		ActingUserID: "admin-1",
		ActingRole:   status.RoleAdmin,
	})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidTransition, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "Draft")
	assert.Contains(t, err.Error(), "Approved")

	assert.Equal(t, status.Draft, deals.deals["deal-1"].Status)
	assert.Empty(t, timeline.entries)
	assert.Zero(t, notifier.total())
}

func TestTransitionDealRejectsUnauthorizedRole(t *testing.T) {
	deals := newFakeDealStore(testDeal("deal-1", status.Closing))
	svc := newTestService(deals, &fakeTimelineStore{}, &recordingNotifier{})

	_, err := svc.TransitionDeal(context.Background(), &TransitionRequest{
		DealID:       "deal-1",
		Target:       status.Funded,
		ActingUserID: "cde-1",
		ActingRole:   status.RoleCDE,
	})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidTransition, errors.CodeOf(err))
	assert.Equal(t, status.Closing, deals.deals["deal-1"].Status)
}

func TestTransitionDealNotFound(t *testing.T) {
	svc := newTestService(newFakeDealStore(), &fakeTimelineStore{}, &recordingNotifier{})

	_, err := svc.TransitionDeal(context.Background(), &TransitionRequest{
		DealID:       "missing",
		Target:       status.Submitted,
		ActingUserID: "admin-1",
		ActingRole:   status.RoleAdmin,
	})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestTransitionDealPersistenceFailureBlocksDownstreamEffects(t *testing.T) {
	deals := newFakeDealStore(testDeal("deal-1", status.Draft))
	deals.updateErr["deal-1"] = errors.Wrap(fmt.Errorf("connection reset"), errors.ErrCodeInternal, "failed to update deal status")
	timeline := &fakeTimelineStore{}
	notifier := &recordingNotifier{}
	svc := newTestService(deals, timeline, notifier)

	_, err := svc.TransitionDeal(context.Background(), &TransitionRequest{
		DealID:       "deal-1",
		Target:       status.Submitted,
		ActingUserID: "admin-1",
		ActingRole:   status.RoleAdmin,
	})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))
	assert.Empty(t, timeline.entries)
	assert.Zero(t, notifier.total())
}

func TestTransitionDealConcurrentConflict(t *testing.T) {
	deals := newFakeDealStore(testDeal("deal-1", status.Draft))
	// A concurrent transition lands between our read and our write;
	// the conditional update surfaces it as a conflict.
	deals.updateErr["deal-1"] = errors.Newf(errors.ErrCodeConflict,
		"deal status changed concurrently: expected %q, found %q", status.Draft, status.Withdrawn)
	timeline := &fakeTimelineStore{}
	notifier := &recordingNotifier{}
	svc := newTestService(deals, timeline, notifier)

	_, err := svc.TransitionDeal(context.Background(), &TransitionRequest{
		DealID:       "deal-1",
		Target:       status.Submitted,
		ActingUserID: "admin-1",
		ActingRole:   status.RoleAdmin,
	})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Empty(t, timeline.entries)
	assert.Zero(t, notifier.total())
}

func TestTransitionDealTimelineFailureIsNonFatal(t *testing.T) {
	deals := newFakeDealStore(testDeal("deal-1", status.UnderReview))
	timeline := &fakeTimelineStore{appendErr: fmt.Errorf("timeline table locked")}
	notifier := &recordingNotifier{}
	svc := newTestService(deals, timeline, notifier)

	result, err := svc.TransitionDeal(context.Background(), &TransitionRequest{
		DealID:       "deal-1",
		Target:       status.Approved,
		ActingUserID: "admin-1",
		ActingRole:   status.RoleAdmin,
	})

	require.NoError(t, err)
	assert.Equal(t, status.Approved, result.To)
	assert.Equal(t, status.Approved, deals.deals["deal-1"].Status)

	// Notifications still fire after a failed timeline append.
	assert.Equal(t, []string{"deal-1"}, notifier.approvals)
	assert.Equal(t, []string{"sponsor@example.com"}, notifier.emails)
}

func TestTransitionDealNotificationMapping(t *testing.T) {
	tests := []struct {
		from, to       status.State
		wantLabels     []string
		wantMilestones []milestoneCall
	}{
		{status.Submitted, status.UnderReview, []string{"Under Review"}, nil},
		{status.UnderReview, status.NeedsInfo, []string{"Needs Information"}, nil},
		{status.Approved, status.Available, []string{"Live on Marketplace"}, nil},
		{status.Available, status.InDiscussions, []string{"In Discussions"}, nil},
		{status.InDiscussions, status.TermSheet, nil, []milestoneCall{{"Term Sheet", "Issued"}}},
		{status.TermSheet, status.Closing, nil, []milestoneCall{{"Closing", "In Progress"}}},
		{status.Closing, status.Funded, nil, []milestoneCall{{"Funding", "Complete"}}},
		{status.UnderReview, status.Declined, []string{"Declined"}, nil},
		{status.Available, status.Expired, []string{"Expired"}, nil},
		// Silent targets.
		{status.Draft, status.Submitted, nil, nil},
		{status.Draft, status.Withdrawn, nil, nil},
		{status.Withdrawn, status.Draft, nil, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			deals := newFakeDealStore(testDeal("deal-1", tt.from))
			notifier := &recordingNotifier{}
			svc := newTestService(deals, &fakeTimelineStore{}, notifier)

			_, err := svc.TransitionDeal(context.Background(), &TransitionRequest{
				DealID:       "deal-1",
				Target:       tt.to,
				ActingUserID: "admin-1",
				ActingRole:   status.RoleAdmin,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantLabels, notifier.statusLabels)
			assert.Equal(t, tt.wantMilestones, notifier.milestones)
		})
	}
}

func TestTransitionDealApprovalWithoutSponsorSkipsEmail(t *testing.T) {
	deal := testDeal("deal-1", status.UnderReview)
	deal.Sponsor = nil
	deals := newFakeDealStore(deal)
	notifier := &recordingNotifier{}
	svc := newTestService(deals, &fakeTimelineStore{}, notifier)

	_, err := svc.TransitionDeal(context.Background(), &TransitionRequest{
		DealID:       "deal-1",
		Target:       status.Approved,
		ActingUserID: "admin-1",
		ActingRole:   status.RoleAdmin,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"deal-1"}, notifier.approvals)
	assert.Empty(t, notifier.emails)
}

func TestTransitionDealRecordsNote(t *testing.T) {
	deals := newFakeDealStore(testDeal("deal-1", status.UnderReview))
	timeline := &fakeTimelineStore{}
	svc := newTestService(deals, timeline, &recordingNotifier{})

	note := "Phase one budget confirmed"
	_, err := svc.TransitionDeal(context.Background(), &TransitionRequest{
		DealID:       "deal-1",
		Target:       status.Approved,
		ActingUserID: "admin-1",
		ActingRole:   status.RoleAdmin,
		Note:         &note,
	})

	require.NoError(t, err)
	require.Len(t, timeline.entries, 1)
	require.NotNil(t, timeline.entries[0].Notes)
	assert.Equal(t, note, *timeline.entries[0].Notes)
}

// ── BulkApprove ──────────────────────────────────────────────────────────────

func TestBulkApproveMixedBatch(t *testing.T) {
	deals := newFakeDealStore(
		testDeal("deal-1", status.UnderReview),
		testDeal("deal-2", status.UnderReview),
		testDeal("deal-3", status.Draft), // not reviewable yet
	)
	svc := newTestService(deals, &fakeTimelineStore{}, &recordingNotifier{})

	input := []string{"deal-1", "deal-2", "deal-3", "missing"}
	result := svc.BulkApprove(context.Background(), input, "admin-1")

	assert.ElementsMatch(t, []string{"deal-1", "deal-2"}, result.Approved)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, len(input), len(result.Approved)+len(result.Failed))

	failedIDs := []string{result.Failed[0].DealID, result.Failed[1].DealID}
	assert.ElementsMatch(t, []string{"deal-3", "missing"}, failedIDs)

	assert.Equal(t, status.Approved, deals.deals["deal-1"].Status)
	assert.Equal(t, status.Approved, deals.deals["deal-2"].Status)
	assert.Equal(t, status.Draft, deals.deals["deal-3"].Status)
}

func TestBulkApproveEmptyInput(t *testing.T) {
	svc := newTestService(newFakeDealStore(), &fakeTimelineStore{}, &recordingNotifier{})

	result := svc.BulkApprove(context.Background(), nil, "admin-1")

	assert.Empty(t, result.Approved)
	assert.Empty(t, result.Failed)
}

// ── ExpireStaleDeals ─────────────────────────────────────────────────────────

func TestExpireStaleDeals(t *testing.T) {
	stale1 := testDeal("stale-1", status.Available)
	stale1.UpdatedAt = time.Now().AddDate(0, 0, -45)
	stale2 := testDeal("stale-2", status.Available)
	stale2.UpdatedAt = time.Now().AddDate(0, 0, -31)
	fresh := testDeal("fresh-1", status.Available)
	fresh.UpdatedAt = time.Now().AddDate(0, 0, -2)
	notListed := testDeal("draft-1", status.Draft)
	notListed.UpdatedAt = time.Now().AddDate(0, 0, -90)

	deals := newFakeDealStore(stale1, stale2, fresh, notListed)
	notifier := &recordingNotifier{}
	svc := newTestService(deals, &fakeTimelineStore{}, notifier)

	expired, err := svc.ExpireStaleDeals(context.Background(), 30)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stale-1", "stale-2"}, expired)
	assert.Equal(t, status.Expired, deals.deals["stale-1"].Status)
	assert.Equal(t, status.Expired, deals.deals["stale-2"].Status)
	assert.Equal(t, status.Available, deals.deals["fresh-1"].Status)
	assert.Equal(t, status.Draft, deals.deals["draft-1"].Status)

	assert.ElementsMatch(t, []string{"Expired", "Expired"}, notifier.statusLabels)
}

func TestExpireStaleDealsSkipsFailuresSilently(t *testing.T) {
	stale1 := testDeal("stale-1", status.Available)
	stale1.UpdatedAt = time.Now().AddDate(0, 0, -45)
	stale2 := testDeal("stale-2", status.Available)
	stale2.UpdatedAt = time.Now().AddDate(0, 0, -45)

	deals := newFakeDealStore(stale1, stale2)
	deals.updateErr["stale-1"] = errors.Wrap(fmt.Errorf("deadlock"), errors.ErrCodeInternal, "failed to update deal status")
	svc := newTestService(deals, &fakeTimelineStore{}, &recordingNotifier{})

	expired, err := svc.ExpireStaleDeals(context.Background(), 30)

	require.NoError(t, err)
	assert.Equal(t, []string{"stale-2"}, expired)
}

// ── ActivitySummary ──────────────────────────────────────────────────────────

func TestActivitySummary(t *testing.T) {
	d1 := testDeal("deal-1", status.Available)
	d2 := testDeal("deal-2", status.Available)
	d3 := testDeal("deal-3", status.Funded)
	deals := newFakeDealStore(d1, d2, d3)

	timeline := &fakeTimelineStore{
		activities: []*repository.TimelineActivity{
			{
				TimelineEntry: repository.TimelineEntry{DealID: "deal-3", Milestone: "Complete Funding", CompletedAt: time.Now()},
				ProjectName:   "Riverside Mixed-Use",
				SponsorName:   "Ada Sponsor",
			},
			{
				// Deal row no longer resolves.
				TimelineEntry: repository.TimelineEntry{DealID: "deal-gone", Milestone: "Approve", CompletedAt: time.Now().Add(-time.Hour)},
			},
		},
	}

	svc := newTestService(deals, timeline, &recordingNotifier{})

	summary, err := svc.ActivitySummary(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalDeals)
	assert.Equal(t, 2, summary.DealCounts[status.Available])
	assert.Equal(t, 1, summary.DealCounts[status.Funded])

	require.Len(t, summary.RecentActivity, 2)
	assert.Equal(t, "Riverside Mixed-Use", summary.RecentActivity[0].ProjectName)
	assert.Equal(t, "Unknown", summary.RecentActivity[1].ProjectName)
	assert.Equal(t, "Unknown Sponsor", summary.RecentActivity[1].SponsorName)
}

func TestActivitySummaryScopedToUser(t *testing.T) {
	mine := testDeal("deal-1", status.Draft)
	theirs := testDeal("deal-2", status.Available)
	theirs.UserID = "user-2"
	deals := newFakeDealStore(mine, theirs)
	svc := newTestService(deals, &fakeTimelineStore{}, &recordingNotifier{})

	userID := "user-1"
	summary, err := svc.ActivitySummary(context.Background(), &userID)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalDeals)
	assert.Equal(t, 1, summary.DealCounts[status.Draft])
	assert.Zero(t, summary.DealCounts[status.Available])
}

// ── queries ──────────────────────────────────────────────────────────────────

func TestGetTimelineRequiresExistingDeal(t *testing.T) {
	svc := newTestService(newFakeDealStore(), &fakeTimelineStore{}, &recordingNotifier{})

	_, err := svc.GetTimeline(context.Background(), "missing")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestAvailableTransitions(t *testing.T) {
	deals := newFakeDealStore(testDeal("deal-1", status.Draft))
	svc := newTestService(deals, &fakeTimelineStore{}, &recordingNotifier{})

	sponsorMoves, err := svc.AvailableTransitions(context.Background(), "deal-1", status.RoleSponsor)
	require.NoError(t, err)
	require.Len(t, sponsorMoves, 1)
	assert.Equal(t, status.Withdrawn, sponsorMoves[0].Target)
	assert.Equal(t, "Withdraw", sponsorMoves[0].Action)

	adminMoves, err := svc.AvailableTransitions(context.Background(), "deal-1", status.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, adminMoves, 2)
	assert.Equal(t, status.Submitted, adminMoves[0].Target)
	assert.Equal(t, "Submit for Review", adminMoves[0].Action)
}
