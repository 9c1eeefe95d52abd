package model

import "encoding/json"

// ProgressSnapshot is the aggregate view of an execution, recomputed and
// emitted after every item mutation.
type ProgressSnapshot struct {
	ExecutionID     string          `json:"executionId,omitempty"`
	Steps           []*Step         `json:"steps"`
	Fees            *FeeBreakdown   `json:"fees,omitempty"`
	Breakdown       json.RawMessage `json:"breakdown,omitempty"`
	Details         *QuoteDetails   `json:"details,omitempty"`
	CurrentStep     *Step           `json:"currentStep,omitempty"`
	CurrentStepItem *Item           `json:"currentStepItem,omitempty"`
	TxHashes        []TxHash        `json:"txHashes,omitempty"`
	Refunded        bool            `json:"refunded"`
	Error           string          `json:"error,omitempty"`
}

// AllTxHashes flattens every item's destination and internal hashes,
// de-duplicated, in step order.
func (q *Quote) AllTxHashes() []TxHash {
	var out []TxHash
	for _, s := range q.Steps {
		for _, it := range s.Items {
			out = MergeTxHashes(out, it.TxHashes)
			out = MergeTxHashes(out, it.InternalTxHashes)
		}
	}
	return out
}

// Snapshot builds a progress snapshot for the quote with the given active
// step and item. The steps slice is shared, not copied; consumers must
// treat snapshots as read-only.
func (q *Quote) Snapshot(executionID string, current *Step, currentItem *Item) *ProgressSnapshot {
	snap := &ProgressSnapshot{
		ExecutionID:     executionID,
		Steps:           q.Steps,
		Fees:            q.Fees,
		Breakdown:       q.Breakdown,
		Details:         q.Details,
		CurrentStep:     current,
		CurrentStepItem: currentItem,
		TxHashes:        q.AllTxHashes(),
	}
	for _, s := range q.Steps {
		for _, it := range s.Items {
			if it.CheckStatus == CheckStatusRefund {
				snap.Refunded = true
			}
			if it.Error != "" && snap.Error == "" {
				snap.Error = it.Error
			}
		}
	}
	return snap
}
