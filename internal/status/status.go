// Package status defines the deal lifecycle state machine: the 13 deal
// states, the directed transition graph between them, and the roles
// allowed to move a deal into each state.
//
// The package is pure lookup over static tables. Every function is
// total: unknown states degrade to a safe default instead of failing,
// because display and orchestration code must stay responsive even
// when the store holds a legacy or corrupted status value.
package status

import "fmt"

// State is one of the 13 lifecycle stages a deal occupies.
type State string

const (
	Draft         State = "draft"
	Submitted     State = "submitted"
	UnderReview   State = "under_review"
	NeedsInfo     State = "needs_info"
	Approved      State = "approved"
	Available     State = "available"
	InDiscussions State = "in_discussions"
	TermSheet     State = "term_sheet"
	Closing       State = "closing"
	Funded        State = "funded"
	Declined      State = "declined"
	Withdrawn     State = "withdrawn"
	Expired       State = "expired"
)

// Role is an acting identity class. Authorization is keyed on the
// destination state of a transition, not the origin.
type Role string

const (
	RoleSponsor Role = "sponsor"
	RoleCDE     Role = "cde"
	RoleAdmin   Role = "admin"
)

// Category groups states for dashboards and filters. The four
// categories partition the full state set.
type Category string

const (
	CategoryPending  Category = "pending"
	CategoryActive   Category = "active"
	CategoryClosed   Category = "closed"
	CategoryInactive Category = "inactive"
)

// Definition is the static metadata attached to one state.
type Definition struct {
	Label       string
	Description string
	Category    Category
	Color       string // 6-hex-digit RGB, no leading #
	Icon        string
	Transitions []State // allowed outbound edges, in display order
	Roles       []Role  // roles permitted to move a deal INTO this state
}

// definitions is the single source of truth for the lifecycle graph.
var definitions = map[State]Definition{
	Draft: {
		Label:       "Draft",
		Description: "Sponsor is still preparing the deal",
		Category:    CategoryPending,
		Color:       "9ca3af",
		Icon:        "edit",
		Transitions: []State{Submitted, Withdrawn},
		Roles:       []Role{RoleSponsor, RoleAdmin},
	},
	Submitted: {
		Label:       "Submitted",
		Description: "Awaiting assignment to a reviewer",
		Category:    CategoryPending,
		Color:       "60a5fa",
		Icon:        "send",
		Transitions: []State{UnderReview, Withdrawn},
		Roles:       []Role{RoleAdmin},
	},
	UnderReview: {
		Label:       "Under Review",
		Description: "Platform team is reviewing the deal",
		Category:    CategoryPending,
		Color:       "fbbf24",
		Icon:        "search",
		Transitions: []State{Approved, NeedsInfo, Declined, Withdrawn},
		Roles:       []Role{RoleAdmin},
	},
	NeedsInfo: {
		Label:       "Needs Information",
		Description: "Reviewer requested more information from the sponsor",
		Category:    CategoryPending,
		Color:       "fb923c",
		Icon:        "help-circle",
		Transitions: []State{UnderReview, Withdrawn},
		Roles:       []Role{RoleAdmin},
	},
	Approved: {
		Label:       "Approved",
		Description: "Deal passed review and can be listed",
		Category:    CategoryActive,
		Color:       "34d399",
		Icon:        "check-circle",
		Transitions: []State{Available, Withdrawn},
		Roles:       []Role{RoleAdmin},
	},
	Available: {
		Label:       "Live on Marketplace",
		Description: "Deal is visible to CDEs on the marketplace",
		Category:    CategoryActive,
		Color:       "10b981",
		Icon:        "globe",
		Transitions: []State{InDiscussions, Expired, Withdrawn},
		Roles:       []Role{RoleAdmin},
	},
	InDiscussions: {
		Label:       "In Discussions",
		Description: "A CDE has opened discussions with the sponsor",
		Category:    CategoryActive,
		Color:       "38bdf8",
		Icon:        "message-circle",
		Transitions: []State{TermSheet, Available, Withdrawn},
		Roles:       []Role{RoleCDE, RoleAdmin},
	},
	TermSheet: {
		Label:       "Term Sheet",
		Description: "A term sheet has been issued",
		Category:    CategoryActive,
		Color:       "818cf8",
		Icon:        "file-text",
		Transitions: []State{Closing, InDiscussions, Withdrawn},
		Roles:       []Role{RoleCDE, RoleAdmin},
	},
	Closing: {
		Label:       "Closing",
		Description: "Legal and financial closing is in progress",
		Category:    CategoryActive,
		Color:       "a78bfa",
		Icon:        "briefcase",
		Transitions: []State{Funded, TermSheet, Withdrawn},
		Roles:       []Role{RoleCDE, RoleAdmin},
	},
	Funded: {
		Label:       "Funded",
		Description: "Capital raise completed",
		Category:    CategoryClosed,
		Color:       "22c55e",
		Icon:        "dollar-sign",
		Transitions: []State{}, // terminal
		Roles:       []Role{RoleAdmin},
	},
	Declined: {
		Label:       "Declined",
		Description: "Deal was declined during review",
		Category:    CategoryInactive,
		Color:       "f87171",
		Icon:        "x-circle",
		Transitions: []State{Submitted},
		Roles:       []Role{RoleAdmin},
	},
	Withdrawn: {
		Label:       "Withdrawn",
		Description: "Sponsor withdrew the deal",
		Category:    CategoryInactive,
		Color:       "94a3b8",
		Icon:        "rotate-ccw",
		Transitions: []State{Draft},
		Roles:       []Role{RoleSponsor, RoleAdmin},
	},
	Expired: {
		Label:       "Expired",
		Description: "Listing lapsed after a period of inactivity",
		Category:    CategoryInactive,
		Color:       "6b7280",
		Icon:        "clock",
		Transitions: []State{Available},
		Roles:       []Role{RoleAdmin},
	},
}

// allStates is the canonical ordering used by All and the category
// listings.
var allStates = []State{
	Draft, Submitted, UnderReview, NeedsInfo,
	Approved, Available, InDiscussions, TermSheet, Closing,
	Funded,
	Declined, Withdrawn, Expired,
}

var allRoles = []Role{RoleSponsor, RoleCDE, RoleAdmin}

// defaultDefinition is returned for unknown states so display code
// never crashes on unexpected persisted data.
var defaultDefinition = Definition{
	Label:    "Draft",
	Category: CategoryPending,
	Color:    "9ca3af",
	Icon:     "edit",
	Roles:    []Role{RoleAdmin},
}

// All returns every defined state in canonical order.
func All() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// AllRoles returns every acting role.
func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// Parse validates a raw string as a State.
func Parse(s string) (State, error) {
	st := State(s)
	if _, ok := definitions[st]; !ok {
		return "", fmt.Errorf("unknown deal status %q", s)
	}
	return st, nil
}

// ParseRole validates a raw string as a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	for _, known := range allRoles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Describe returns the definition for a state, or the safe default for
// unknown input.
func Describe(s State) Definition {
	if def, ok := definitions[s]; ok {
		return def
	}
	return defaultDefinition
}

// Label returns the display label of a state.
func Label(s State) string { return Describe(s).Label }

// Color returns the display color of a state.
func Color(s State) string { return Describe(s).Color }

// Icon returns the icon identifier of a state.
func Icon(s State) string { return Describe(s).Icon }

// CanTransition reports whether a deal currently in `current` may move
// to `target` when driven by `role`. Both the graph edge and the
// destination's role gate must hold. Total: unknown states or roles
// simply yield false.
func CanTransition(current, target State, role Role) bool {
	def, ok := definitions[current]
	if !ok {
		return false
	}
	targetDef, ok := definitions[target]
	if !ok {
		return false
	}
	edge := false
	for _, next := range def.Transitions {
		if next == target {
			edge = true
			break
		}
	}
	if !edge {
		return false
	}
	for _, r := range targetDef.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ValidTransitions returns the subset of current's outbound edges the
// given role is allowed to enter, in graph order.
func ValidTransitions(current State, role Role) []State {
	def, ok := definitions[current]
	if !ok {
		return nil
	}
	out := make([]State, 0, len(def.Transitions))
	for _, target := range def.Transitions {
		if CanTransition(current, target, role) {
			out = append(out, target)
		}
	}
	return out
}

// StatesByCategory returns the states in a category, in canonical order.
func StatesByCategory(c Category) []State {
	var out []State
	for _, s := range allStates {
		if definitions[s].Category == c {
			out = append(out, s)
		}
	}
	return out
}

// IsMarketplaceVisible reports whether deals in this state appear in
// marketplace search results.
func IsMarketplaceVisible(s State) bool {
	switch s {
	case Available, InDiscussions, TermSheet, Closing:
		return true
	}
	return false
}

// IsActive reports whether the state belongs to the active category.
func IsActive(s State) bool { return Describe(s).Category == CategoryActive }

// IsClosed reports whether the deal reached the funded terminal state.
func IsClosed(s State) bool { return s == Funded }

// IsTerminal reports whether the state has no outbound transitions.
func IsTerminal(s State) bool {
	def, ok := definitions[s]
	return ok && len(def.Transitions) == 0
}
