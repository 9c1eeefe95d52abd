package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/chainrpc"
	"github.com/chainflow/relay-engine/internal/httpclient"
)

// NodeWallet adapts a JSON-RPC node holding a managed (unlocked) account
// to the Wallet capability. It covers the transaction path; delegation
// authorizations are not available through plain node RPC.
type NodeWallet struct {
	logger          *zap.Logger
	exec            *httpclient.Executor
	chain           *chainrpc.Client
	urls            map[int64]string
	address         string
	seq             int64
	receiptInterval time.Duration
}

// NewNodeWallet constructs a node wallet over per-chain RPC URLs.
func NewNodeWallet(logger *zap.Logger, exec *httpclient.Executor, chain *chainrpc.Client, urls map[int64]string, address string) *NodeWallet {
	return &NodeWallet{
		logger:          logger,
		exec:            exec,
		chain:           chain,
		urls:            urls,
		address:         address,
		receiptInterval: 2 * time.Second,
	}
}

func (w *NodeWallet) Address() string { return w.address }

func (w *NodeWallet) rpc(ctx context.Context, chainID int64, method string, params []any, out any) error {
	url, ok := w.urls[chainID]
	if !ok {
		return fmt.Errorf("no rpc endpoint configured for chain %d", chainID)
	}
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      atomic.AddInt64(&w.seq, 1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := w.exec.DoJSON(ctx, req, "wallet_rpc:"+url, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %d %s", method, resp.Error.Code, resp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

func (w *NodeWallet) AccountType(ctx context.Context, chainID int64) (AccountType, error) {
	code, err := w.chain.GetCode(ctx, chainID, w.address)
	if err != nil {
		return "", fmt.Errorf("detect account type: %w", err)
	}
	switch {
	case code == "" || code == "0x":
		return AccountTypeEOA, nil
	case strings.HasPrefix(strings.ToLower(code), chainrpc.DelegationPrefix):
		return AccountTypeDelegated, nil
	default:
		return AccountTypeContract, nil
	}
}

// SwitchChain is a no-op for a node wallet; the chain is selected per call
// by routing to the matching RPC endpoint.
func (w *NodeWallet) SwitchChain(_ context.Context, chainID int64) error {
	if _, ok := w.urls[chainID]; !ok {
		return fmt.Errorf("unsupported chain %d", chainID)
	}
	return nil
}

func (w *NodeWallet) SignMessage(ctx context.Context, message string) (string, error) {
	var sig string
	hexMsg := "0x" + fmt.Sprintf("%x", message)
	if err := w.rpc(ctx, w.anyChain(), "personal_sign", []any{hexMsg, w.address}, &sig); err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return sig, nil
}

func (w *NodeWallet) SignTypedData(ctx context.Context, typedData json.RawMessage) (string, error) {
	var sig string
	if err := w.rpc(ctx, w.anyChain(), "eth_signTypedData_v4", []any{w.address, json.RawMessage(typedData)}, &sig); err != nil {
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	return sig, nil
}

func (w *NodeWallet) SendTransaction(ctx context.Context, tx TransactionRequest) (string, error) {
	param := map[string]string{"from": w.address, "to": tx.To}
	if tx.Value != "" {
		param["value"] = tx.Value
	}
	if tx.Data != "" {
		param["data"] = tx.Data
	}
	if tx.Gas != "" {
		param["gas"] = tx.Gas
	}

	var hash string
	if err := w.rpc(ctx, tx.ChainID, "eth_sendTransaction", []any{param}, &hash); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return hash, nil
}

func (w *NodeWallet) SendCalls(ctx context.Context, chainID int64, calls []Call) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	param := map[string]any{
		"version": "2.0.0",
		"chainId": fmt.Sprintf("0x%x", chainID),
		"from":    w.address,
		"calls":   calls,
	}
	if err := w.rpc(ctx, chainID, "wallet_sendCalls", []any{param}, &resp); err != nil {
		return "", fmt.Errorf("send calls: %w", err)
	}
	return resp.ID, nil
}

func (w *NodeWallet) SignAuthorization(_ context.Context, _ Authorization) (*SignedAuthorization, error) {
	return nil, fmt.Errorf("node wallet cannot sign delegation authorizations")
}

func (w *NodeWallet) Confirm(ctx context.Context, chainID int64, txHash string) (*Receipt, error) {
	ticker := time.NewTicker(w.receiptInterval)
	defer ticker.Stop()

	for {
		var receipt *struct {
			TransactionHash string `json:"transactionHash"`
			Status          string `json:"status"`
		}
		err := w.rpc(ctx, chainID, "eth_getTransactionReceipt", []any{txHash}, &receipt)
		if err == nil && receipt != nil {
			return &Receipt{
				TxHash:  receipt.TransactionHash,
				ChainID: chainID,
				Success: receipt.Status == "0x1",
			}, nil
		}
		if err != nil {
			w.logger.Debug("wallet.receipt_poll_failed",
				zap.String("tx_hash", txHash),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *NodeWallet) anyChain() int64 {
	for id := range w.urls {
		return id
	}
	return 0
}
