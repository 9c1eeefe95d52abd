package status

import (
	"github.com/chainflow/relay-engine/internal/relay"
	"github.com/chainflow/relay-engine/pkg/model"
)

// FromCheckResult maps a pull-endpoint observation into an Update.
// fallbackDest/fallbackOrigin supply chain ids when the response omits them.
func FromCheckResult(r *relay.CheckResult, fallbackDest, fallbackOrigin int64) Update {
	dest := r.DestinationChainID
	if dest == 0 {
		dest = fallbackDest
	}
	origin := r.OriginChainID
	if origin == 0 {
		origin = fallbackOrigin
	}

	u := Update{
		Status:  model.CheckStatus(r.Status),
		Details: r.Details,
	}
	for _, h := range r.TxHashes {
		u.TxHashes = append(u.TxHashes, model.TxHash{TxHash: h, ChainID: dest})
	}
	for _, h := range r.InTxHashes {
		u.InTxHashes = append(u.InTxHashes, model.TxHash{TxHash: h, ChainID: origin})
	}
	return u
}
