package wallet

import (
	"context"
	"encoding/json"
)

// AccountType classifies the on-chain shape of the wallet's account.
type AccountType string

const (
	AccountTypeEOA       AccountType = "eoa"
	AccountTypeContract  AccountType = "contract"
	AccountTypeDelegated AccountType = "delegated"
)

// TransactionRequest is a single user-paid transaction to submit.
type TransactionRequest struct {
	ChainID int64  `json:"chainId"`
	To      string `json:"to"`
	Value   string `json:"value,omitempty"`
	Data    string `json:"data,omitempty"`
	Gas     string `json:"gas,omitempty"`
}

// Call is one entry of a batch submitted via SendCalls.
type Call struct {
	To    string `json:"to"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

// Receipt is the confirmation result for a submitted transaction. TxHash
// may differ from the submitted hash when the transaction was replaced
// (sped up) with the same intent.
type Receipt struct {
	TxHash  string `json:"txHash"`
	ChainID int64  `json:"chainId"`
	Success bool   `json:"success"`
}

// Authorization is a request to delegate the account to a contract.
type Authorization struct {
	ChainID int64  `json:"chainId"`
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// SignedAuthorization is a signed delegation, shaped for inclusion in an
// authorizationList.
type SignedAuthorization struct {
	ChainID int64  `json:"chainId"`
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	YParity int    `json:"yParity"`
	R       string `json:"r"`
	S       string `json:"s"`
}

// Wallet is the externally supplied capability set the engine drives.
// The engine never implements signing; it only invokes these methods.
// Confirm reports a user/provider cancellation as ErrTransactionCancelled
// (via pkg/model) and a replacement through a differing receipt hash.
type Wallet interface {
	Address() string
	AccountType(ctx context.Context, chainID int64) (AccountType, error)
	SwitchChain(ctx context.Context, chainID int64) error
	SignMessage(ctx context.Context, message string) (string, error)
	SignTypedData(ctx context.Context, typedData json.RawMessage) (string, error)
	SendTransaction(ctx context.Context, tx TransactionRequest) (string, error)
	SendCalls(ctx context.Context, chainID int64, calls []Call) (string, error)
	SignAuthorization(ctx context.Context, auth Authorization) (*SignedAuthorization, error)
	Confirm(ctx context.Context, chainID int64, txHash string) (*Receipt, error)
}
