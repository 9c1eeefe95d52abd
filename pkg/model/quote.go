package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// StepKind discriminates how a step's items are driven to completion.
type StepKind string

const (
	StepKindTransaction StepKind = "transaction"
	StepKindSignature   StepKind = "signature"
)

// ItemStatus is the completion state of a step item. It is monotonic:
// once complete, an item never reverts to incomplete.
type ItemStatus string

const (
	ItemStatusIncomplete ItemStatus = "incomplete"
	ItemStatusComplete   ItemStatus = "complete"
)

// Quote is the negotiated execution plan handed to the engine.
// The engine passes summary fields through untouched except to append
// server-revealed steps and to refresh settlement details once known.
type Quote struct {
	Steps     []*Step         `json:"steps"`
	Fees      *FeeBreakdown   `json:"fees,omitempty"`
	Breakdown json.RawMessage `json:"breakdown,omitempty"`
	Details   *QuoteDetails   `json:"details,omitempty"`
}

// FeeBreakdown carries the quoted fee components.
type FeeBreakdown struct {
	Gas      *CurrencyAmount `json:"gas,omitempty"`
	Relayer  *CurrencyAmount `json:"relayer,omitempty"`
	App      *CurrencyAmount `json:"app,omitempty"`
	Subsidy  *CurrencyAmount `json:"subsidy,omitempty"`
	Currency string          `json:"currency,omitempty"`
}

// QuoteDetails summarizes the negotiated amounts and endpoints of a swap.
type QuoteDetails struct {
	Sender       string          `json:"sender,omitempty"`
	Recipient    string          `json:"recipient,omitempty"`
	CurrencyIn   *CurrencyAmount `json:"currencyIn,omitempty"`
	CurrencyOut  *CurrencyAmount `json:"currencyOut,omitempty"`
	Rate         string          `json:"rate,omitempty"`
	TimeEstimate int             `json:"timeEstimate,omitempty"`
}

// CurrencyAmount is an amount of a specific currency on a specific chain.
type CurrencyAmount struct {
	ChainID         int64  `json:"chainId,omitempty"`
	Address         string `json:"address,omitempty"`
	Symbol          string `json:"symbol,omitempty"`
	Decimals        int    `json:"decimals,omitempty"`
	Amount          string `json:"amount,omitempty"`
	AmountFormatted string `json:"amountFormatted,omitempty"`
	AmountUSD       string `json:"amountUsd,omitempty"`
}

// AmountDecimal parses the raw amount. Returns zero on a missing or
// malformed value so callers can compare without error plumbing.
func (c *CurrencyAmount) AmountDecimal() decimal.Decimal {
	if c == nil || c.Amount == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(c.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Step is one ordered phase of a quote's execution.
// A request id, once assigned to any step, is the correlation key used by
// both status sources for the remainder of the execution.
type Step struct {
	ID             string   `json:"id"`
	Action         string   `json:"action,omitempty"`
	Description    string   `json:"description,omitempty"`
	Kind           StepKind `json:"kind"`
	RequestID      string   `json:"requestId,omitempty"`
	DepositAddress string   `json:"depositAddress,omitempty"`
	ChainID        int64    `json:"chainId,omitempty"`
	Items          []*Item  `json:"items"`
}

// Complete reports whether every item in the step is complete.
func (s *Step) Complete() bool {
	for _, it := range s.Items {
		if it.Status != ItemStatusComplete {
			return false
		}
	}
	return true
}

// IncompleteItems returns the items that still need work, in array order.
func (s *Step) IncompleteItems() []*Item {
	var out []*Item
	for _, it := range s.Items {
		if it.Status != ItemStatusComplete {
			out = append(out, it)
		}
	}
	return out
}

// Item is the atomic unit of work inside a step.
type Item struct {
	Status           ItemStatus      `json:"status"`
	Data             ItemData        `json:"data"`
	TxHashes         []TxHash        `json:"txHashes,omitempty"`
	InternalTxHashes []TxHash        `json:"internalTxHashes,omitempty"`
	CheckStatus      CheckStatus     `json:"checkStatus,omitempty"`
	ProgressState    ProgressState   `json:"progressState,omitempty"`
	OrderData        json.RawMessage `json:"orderData,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// ItemData is the kind-specific payload of an item. Transaction items carry
// a chain id and call; signature items carry sign/post/check descriptors.
type ItemData struct {
	ChainID int64      `json:"chainId,omitempty"`
	To      string     `json:"to,omitempty"`
	Value   string     `json:"value,omitempty"`
	Input   string     `json:"data,omitempty"`
	Gas     string     `json:"gas,omitempty"`
	Sign    *SignData  `json:"sign,omitempty"`
	Post    *PostData  `json:"post,omitempty"`
	Check   *CheckData `json:"check,omitempty"`
}

// SignData describes a signature request, either a raw message (eip191)
// or a typed-data descriptor (eip712).
type SignData struct {
	SignatureKind string          `json:"signatureKind"` // "eip191" | "eip712"
	Message       string          `json:"message,omitempty"`
	TypedData     json.RawMessage `json:"typedData,omitempty"`
}

// PostData describes the order-submission endpoint for a signed item.
type PostData struct {
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// CheckData describes the status-polling endpoint for an item.
type CheckData struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method,omitempty"`
}

// TxHash pairs a transaction hash with the chain it landed on.
type TxHash struct {
	TxHash  string `json:"txHash"`
	ChainID int64  `json:"chainId"`
}

// MergeTxHashes appends src entries onto dst, de-duplicated by hash,
// preserving chronological order.
func MergeTxHashes(dst, src []TxHash) []TxHash {
	seen := make(map[string]struct{}, len(dst))
	for _, h := range dst {
		seen[h.TxHash] = struct{}{}
	}
	for _, h := range src {
		if h.TxHash == "" {
			continue
		}
		if _, ok := seen[h.TxHash]; ok {
			continue
		}
		seen[h.TxHash] = struct{}{}
		dst = append(dst, h)
	}
	return dst
}

// Complete reports whether every item of every step is complete.
func (q *Quote) Complete() bool {
	for _, s := range q.Steps {
		if !s.Complete() {
			return false
		}
	}
	return true
}

// RequestID returns the first request id assigned among the quote's steps.
func (q *Quote) RequestID() string {
	for _, s := range q.Steps {
		if s.RequestID != "" {
			return s.RequestID
		}
	}
	return ""
}

// FirstTransactionStep returns the first transaction-kind step, or nil.
func (q *Quote) FirstTransactionStep() *Step {
	for _, s := range q.Steps {
		if s.Kind == StepKindTransaction {
			return s
		}
	}
	return nil
}
