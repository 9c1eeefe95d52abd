package engine

import (
	"fmt"
	"strings"

	"github.com/chainflow/relay-engine/internal/wallet"
	"github.com/chainflow/relay-engine/pkg/model"
)

var burnAddresses = map[string]struct{}{
	"0x0000000000000000000000000000000000000000": {},
	"0x000000000000000000000000000000000000dead": {},
}

func isBurnAddress(addr string) bool {
	_, ok := burnAddresses[strings.ToLower(addr)]
	return ok
}

// validateQuote checks execution preconditions before any network or
// wallet interaction takes place.
func (e *Engine) validateQuote(q *model.Quote, w wallet.Wallet) error {
	if e.relay == nil || e.relay.BaseURL() == "" {
		return fmt.Errorf("relay base url is not configured")
	}
	if w == nil {
		return fmt.Errorf("wallet is required")
	}
	if q == nil || len(q.Steps) == 0 {
		return fmt.Errorf("quote has no steps")
	}
	if d := q.Details; d != nil {
		if d.Recipient != "" && isBurnAddress(d.Recipient) {
			return fmt.Errorf("refusing to execute: recipient %s is a burn address", d.Recipient)
		}
		if d.Sender != "" && isBurnAddress(d.Sender) {
			return fmt.Errorf("refusing to execute: sender %s is a burn address", d.Sender)
		}
	}
	if step := q.FirstTransactionStep(); step != nil {
		chainID := step.ChainID
		if chainID == 0 && len(step.Items) > 0 {
			chainID = step.Items[0].Data.ChainID
		}
		if chainID == 0 {
			return fmt.Errorf("transaction step %q has no chain id", step.ID)
		}
	}
	return nil
}
