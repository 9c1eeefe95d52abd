package relay

import (
	"encoding/json"

	"github.com/chainflow/relay-engine/pkg/model"
)

// OrderResponse is the order-submission endpoint's reply. Exactly one of
// the two shapes is populated: a new list of steps (server-driven step
// expansion) or order results.
type OrderResponse struct {
	Steps               []*model.Step   `json:"steps,omitempty"`
	Results             json.RawMessage `json:"results,omitempty"`
	OrderID             string          `json:"orderId,omitempty"`
	CrossPostingOrderID string          `json:"crossPostingOrderId,omitempty"`
	OrderIndex          int             `json:"orderIndex,omitempty"`
}

// OrderData returns the result payload to attach to the item, or nil when
// the response carried steps instead.
func (r *OrderResponse) OrderData() json.RawMessage {
	if len(r.Results) > 0 {
		return r.Results
	}
	if r.OrderID == "" && r.CrossPostingOrderID == "" {
		return nil
	}
	data, _ := json.Marshal(map[string]any{
		"orderId":             r.OrderID,
		"crossPostingOrderId": r.CrossPostingOrderID,
		"orderIndex":          r.OrderIndex,
	})
	return data
}

// CheckResult is one observation from the pull status endpoint.
type CheckResult struct {
	Status             string   `json:"status"`
	TxHashes           []string `json:"txHashes,omitempty"`
	InTxHashes         []string `json:"inTxHashes,omitempty"`
	OriginChainID      int64    `json:"originChainId,omitempty"`
	DestinationChainID int64    `json:"destinationChainId,omitempty"`
	Details            string   `json:"details,omitempty"`
}

// RequestMetadata is settlement metadata for a request id.
type RequestMetadata struct {
	ID        string      `json:"id"`
	Status    string      `json:"status,omitempty"`
	UpdatedAt string      `json:"updatedAt,omitempty"`
	Data      RequestData `json:"data"`
}

// RequestData carries the settled amounts once known.
type RequestData struct {
	CurrencyIn  *model.CurrencyAmount `json:"currencyIn,omitempty"`
	CurrencyOut *model.CurrencyAmount `json:"currencyOut,omitempty"`
	FeesUSD     string                `json:"feesUsd,omitempty"`
}

type requestsResponse struct {
	Requests []RequestMetadata `json:"requests"`
}

// ExecuteRequest is the delegated-batch submission body.
type ExecuteRequest struct {
	ExecutionKind     string           `json:"executionKind"`
	Data              ExecuteCallData  `json:"data"`
	ExecutionOptions  ExecutionOptions `json:"executionOptions"`
	OriginGasOverhead *uint64          `json:"originGasOverhead,omitempty"`
	RequestID         string           `json:"requestId,omitempty"`
}

// ExecuteCallData is the encoded batch call of a delegated execution.
type ExecuteCallData struct {
	ChainID           int64            `json:"chainId"`
	To                string           `json:"to"`
	Data              string           `json:"data"`
	Value             string           `json:"value"`
	AuthorizationList []*Authorization `json:"authorizationList,omitempty"`
}

// Authorization is one signed delegation entry of an authorizationList.
type Authorization struct {
	ChainID int64  `json:"chainId"`
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	YParity int    `json:"yParity"`
	R       string `json:"r"`
	S       string `json:"s"`
}

// ExecutionOptions carries sponsorship settings for a delegated execution.
type ExecutionOptions struct {
	Referrer      string `json:"referrer,omitempty"`
	SubsidizeFees bool   `json:"subsidizeFees"`
}

// ExecuteResponse acknowledges a delegated submission.
type ExecuteResponse struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message,omitempty"`
}
