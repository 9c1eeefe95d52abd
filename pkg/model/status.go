package model

// CheckStatus is the status-channel-derived sub-state of an item,
// independent of its completion status.
type CheckStatus string

const (
	CheckStatusPending   CheckStatus = "pending"
	CheckStatusSubmitted CheckStatus = "submitted"
	CheckStatusSuccess   CheckStatus = "success"
	CheckStatusFailure   CheckStatus = "failure"
	CheckStatusRefund    CheckStatus = "refund"
)

// Terminal reports whether no further transitions may follow the status.
// A submitted fill can still be superseded, so it is not terminal.
func (s CheckStatus) Terminal() bool {
	return s == CheckStatusSuccess || s == CheckStatusRefund
}

// rank orders the forward-only portion of the status lattice.
func (s CheckStatus) rank() int {
	switch s {
	case CheckStatusPending:
		return 1
	case CheckStatusSubmitted:
		return 2
	case CheckStatusSuccess:
		return 3
	default:
		return 0
	}
}

// CanTransition reports whether moving from s to next is a legal, forward
// move in the status lattice. Terminal states admit no transition. A
// failure may resolve back into pending or onward into refund; otherwise
// updates that would revert progress are rejected.
func (s CheckStatus) CanTransition(next CheckStatus) bool {
	if s == next {
		return false
	}
	if s.Terminal() {
		return false
	}
	switch next {
	case CheckStatusSuccess, CheckStatusRefund, CheckStatusFailure:
		return true
	case CheckStatusPending:
		// Only a fresh item or a failed one may (re)enter pending.
		return s == "" || s == CheckStatusFailure
	case CheckStatusSubmitted:
		return s.rank() < CheckStatusSubmitted.rank() || s == CheckStatusFailure
	default:
		return false
	}
}

// ProgressState is a transient UI-facing label with no durability requirement.
type ProgressState string

const (
	ProgressStateSigning    ProgressState = "signing"
	ProgressStatePosting    ProgressState = "posting"
	ProgressStateValidating ProgressState = "validating"
	ProgressStateComplete   ProgressState = "complete"
)
