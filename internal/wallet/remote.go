package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/httpclient"
	"github.com/chainflow/relay-engine/pkg/model"
)

// RemoteSigner adapts an HTTP signer service to the Wallet capability.
// The service holds the key material; this adapter only forwards requests
// and normalizes the responses.
type RemoteSigner struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	baseURL string
	address string
}

// NewRemoteSigner constructs a remote signer adapter for the account held
// at the given signer-service URL.
func NewRemoteSigner(logger *zap.Logger, exec *httpclient.Executor, baseURL, address string) *RemoteSigner {
	return &RemoteSigner{
		logger:  logger,
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		address: address,
	}
}

func (w *RemoteSigner) Address() string { return w.address }

func (w *RemoteSigner) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return w.exec.DoJSON(ctx, req, "signer:"+w.baseURL, out)
}

func (w *RemoteSigner) AccountType(ctx context.Context, chainID int64) (AccountType, error) {
	var resp struct {
		AccountType AccountType `json:"accountType"`
	}
	body := map[string]any{"address": w.address, "chainId": chainID}
	if err := w.post(ctx, "/v1/account/type", body, &resp); err != nil {
		return "", fmt.Errorf("detect account type: %w", err)
	}
	return resp.AccountType, nil
}

func (w *RemoteSigner) SwitchChain(ctx context.Context, chainID int64) error {
	return w.post(ctx, "/v1/chain/switch", map[string]any{"chainId": chainID}, nil)
}

func (w *RemoteSigner) SignMessage(ctx context.Context, message string) (string, error) {
	var resp struct {
		Signature string `json:"signature"`
	}
	body := map[string]any{"address": w.address, "message": message}
	if err := w.post(ctx, "/v1/sign/message", body, &resp); err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return resp.Signature, nil
}

func (w *RemoteSigner) SignTypedData(ctx context.Context, typedData json.RawMessage) (string, error) {
	var resp struct {
		Signature string `json:"signature"`
	}
	body := map[string]any{"address": w.address, "typedData": typedData}
	if err := w.post(ctx, "/v1/sign/typed-data", body, &resp); err != nil {
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	return resp.Signature, nil
}

func (w *RemoteSigner) SendTransaction(ctx context.Context, tx TransactionRequest) (string, error) {
	var resp struct {
		TxHash string `json:"txHash"`
	}
	if err := w.post(ctx, "/v1/transactions", tx, &resp); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return resp.TxHash, nil
}

func (w *RemoteSigner) SendCalls(ctx context.Context, chainID int64, calls []Call) (string, error) {
	var resp struct {
		BatchID string `json:"batchId"`
	}
	body := map[string]any{"chainId": chainID, "calls": calls}
	if err := w.post(ctx, "/v1/calls", body, &resp); err != nil {
		return "", fmt.Errorf("send calls: %w", err)
	}
	return resp.BatchID, nil
}

func (w *RemoteSigner) SignAuthorization(ctx context.Context, auth Authorization) (*SignedAuthorization, error) {
	var resp SignedAuthorization
	if err := w.post(ctx, "/v1/sign/authorization", auth, &resp); err != nil {
		return nil, fmt.Errorf("sign authorization: %w", err)
	}
	return &resp, nil
}

func (w *RemoteSigner) Confirm(ctx context.Context, chainID int64, txHash string) (*Receipt, error) {
	var resp struct {
		TxHash string `json:"txHash"`
		Status string `json:"status"` // "confirmed" | "replaced" | "cancelled" | "reverted"
	}
	body := map[string]any{"chainId": chainID, "txHash": txHash}
	if err := w.post(ctx, "/v1/transactions/wait", body, &resp); err != nil {
		return nil, fmt.Errorf("confirm transaction: %w", err)
	}

	switch resp.Status {
	case "cancelled":
		return nil, model.ErrTransactionCancelled
	case "reverted":
		return &Receipt{TxHash: resp.TxHash, ChainID: chainID, Success: false}, nil
	case "confirmed", "replaced":
		hash := resp.TxHash
		if hash == "" {
			hash = txHash
		}
		if resp.Status == "replaced" {
			w.logger.Info("wallet.tx_replaced",
				zap.String("submitted", txHash),
				zap.String("replacement", hash))
		}
		return &Receipt{TxHash: hash, ChainID: chainID, Success: true}, nil
	default:
		return nil, fmt.Errorf("confirm transaction: unexpected status %q", resp.Status)
	}
}
