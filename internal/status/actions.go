package status

// actionLabels maps well-known (from, to) pairs to the verb phrase
// recorded on the deal timeline and shown on transition buttons.
var actionLabels = map[[2]State]string{
	{Draft, Submitted}:            "Submit for Review",
	{Submitted, UnderReview}:      "Begin Review",
	{UnderReview, Approved}:       "Approve",
	{UnderReview, NeedsInfo}:      "Request Information",
	{UnderReview, Declined}:       "Decline",
	{NeedsInfo, UnderReview}:      "Resume Review",
	{Approved, Available}:         "List on Marketplace",
	{Available, InDiscussions}:    "Enter Discussions",
	{Available, Expired}:          "Expire Listing",
	{InDiscussions, TermSheet}:    "Issue Term Sheet",
	{InDiscussions, Available}:    "Return to Marketplace",
	{TermSheet, Closing}:          "Begin Closing",
	{TermSheet, InDiscussions}:    "Reopen Discussions",
	{Closing, Funded}:             "Complete Funding",
	{Closing, TermSheet}:          "Revise Term Sheet",
	{Declined, Submitted}:         "Resubmit",
	{Withdrawn, Draft}:            "Reopen as Draft",
	{Expired, Available}:          "Relist on Marketplace",
	{Draft, Withdrawn}:            "Withdraw",
	{Submitted, Withdrawn}:        "Withdraw",
	{UnderReview, Withdrawn}:      "Withdraw",
	{NeedsInfo, Withdrawn}:        "Withdraw",
	{Approved, Withdrawn}:         "Withdraw",
	{Available, Withdrawn}:        "Withdraw from Marketplace",
	{InDiscussions, Withdrawn}:    "Withdraw from Marketplace",
	{TermSheet, Withdrawn}:        "Withdraw from Marketplace",
	{Closing, Withdrawn}:          "Withdraw from Marketplace",
}

// TransitionActionLabel returns the human-readable action for a
// (from, to) pair. Pairs without a curated label fall back to
// "Move to <Label>". Labeling is independent of reachability so audit
// rendering never fails on historical or hand-patched data.
func TransitionActionLabel(from, to State) string {
	if label, ok := actionLabels[[2]State{from, to}]; ok {
		return label
	}
	return "Move to " + Label(to)
}
