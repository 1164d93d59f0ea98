package repository

import (
	"time"

	"github.com/capraise-ai/be-deals-service/internal/status"
)

// ── Domain types for the deal lifecycle ──────────────────────────────────────

// SponsorProfile is the contact slice of the sponsor's profile joined
// onto a deal read. It is normalized here at the data-access boundary:
// a missing profile row yields a nil *SponsorProfile, never a
// half-populated one.
type SponsorProfile struct {
	Email    string
	FullName string
}

// Deal is the persisted deal record this service reads and whose
// status and updated_at it conditionally overwrites. Deal creation and
// deletion belong to the marketplace CRUD service, not to us.
type Deal struct {
	ID          string
	ProjectName string
	Status      status.State
	UserID      string
	Description *string
	Sponsor     *SponsorProfile
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TimelineEntry is one immutable audit record of an accepted
// transition. Entries are appended once and never mutated or deleted.
type TimelineEntry struct {
	ID          string
	DealID      string
	Milestone   string
	Completed   bool
	CompletedAt time.Time
	Notes       *string
	CreatedAt   time.Time
}

// TimelineActivity is a timeline entry annotated with its deal's
// project and sponsor names for activity feeds. Either name may be
// empty when the related row no longer resolves.
type TimelineActivity struct {
	TimelineEntry
	ProjectName string
	SponsorName string
}

// DealFilter narrows a deal listing.
type DealFilter struct {
	Status   *status.State
	Category *status.Category
	UserID   *string
	Limit    int
	Offset   int
}
