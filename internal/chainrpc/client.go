package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/httpclient"
)

// Client performs read-only EVM JSON-RPC calls against per-chain endpoints.
// Only the handful of reads the engine needs are exposed; transaction
// submission always goes through the wallet capability.
type Client struct {
	logger *zap.Logger
	exec   *httpclient.Executor
	urls   map[int64]string
	seq    int64
}

// NewClient constructs a chain RPC client for the given chainId -> URL map.
func NewClient(logger *zap.Logger, exec *httpclient.Executor, urls map[int64]string) *Client {
	return &Client{
		logger: logger,
		exec:   exec,
		urls:   urls,
	}
}

// HasChain reports whether an RPC endpoint is configured for the chain.
func (c *Client) HasChain(chainID int64) bool {
	_, ok := c.urls[chainID]
	return ok
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, chainID int64, method string, params []any, out any) error {
	url, ok := c.urls[chainID]
	if !ok {
		return fmt.Errorf("no rpc endpoint configured for chain %d", chainID)
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddInt64(&c.seq, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp rpcResponse
	if err := c.exec.DoJSON(ctx, req, "rpc:"+url, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("rpc %s failed: %d %s", method, resp.Error.Code, resp.Error.Message)
	}
	return json.Unmarshal(resp.Result, out)
}

// GetCode returns the deployed bytecode at addr ("0x" for an EOA).
func (c *Client) GetCode(ctx context.Context, chainID int64, addr string) (string, error) {
	var code string
	if err := c.call(ctx, chainID, "eth_getCode", []any{addr, "latest"}, &code); err != nil {
		return "", err
	}
	return code, nil
}

// TransactionCount returns the current account nonce for addr.
func (c *Client) TransactionCount(ctx context.Context, chainID int64, addr string) (uint64, error) {
	var hex string
	if err := c.call(ctx, chainID, "eth_getTransactionCount", []any{addr, "latest"}, &hex); err != nil {
		return 0, err
	}
	return parseHexUint(hex)
}

// CallContract performs an eth_call of data against the to address and
// returns the raw hex result.
func (c *Client) CallContract(ctx context.Context, chainID int64, to, data string) (string, error) {
	var result string
	params := []any{map[string]string{"to": to, "data": data}, "latest"}
	if err := c.call(ctx, chainID, "eth_call", params, &result); err != nil {
		return "", err
	}
	return result, nil
}

func parseHexUint(s string) (uint64, error) {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex quantity %q", s)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("hex quantity %q overflows uint64", s)
	}
	return v.Uint64(), nil
}
