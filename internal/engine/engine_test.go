package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/chainrpc"
	"github.com/chainflow/relay-engine/internal/httpclient"
	"github.com/chainflow/relay-engine/internal/relay"
	"github.com/chainflow/relay-engine/internal/wallet"
	"github.com/chainflow/relay-engine/pkg/model"
)

func newTestEngine(t *testing.T, server *httptest.Server, cfg Config) *Engine {
	t.Helper()
	logger := zap.NewNop()
	exec := httpclient.New(logger, nil, server.Client(), 0, "relay")
	rc := relay.NewClient(logger, exec, server.URL, "test-key")
	return New(logger, rc, nil, cfg)
}

func newTestEngineWithChain(t *testing.T, relayServer, rpcServer *httptest.Server, cfg Config) *Engine {
	t.Helper()
	logger := zap.NewNop()
	relayExec := httpclient.New(logger, nil, relayServer.Client(), 0, "relay")
	rc := relay.NewClient(logger, relayExec, relayServer.URL, "test-key")
	rpcExec := httpclient.New(logger, nil, rpcServer.Client(), 0, "chainrpc")
	cc := chainrpc.NewClient(logger, rpcExec, map[int64]string{8453: rpcServer.URL})
	return New(logger, rc, cc, cfg)
}

func fastConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  20,
		GraceDelay:   50 * time.Millisecond,
	}
}

// fakeWallet is a scriptable Wallet for engine tests.
type fakeWallet struct {
	mu sync.Mutex

	address  string
	sent     []wallet.TransactionRequest
	switched []int64
	signed   []string
	typed    []json.RawMessage

	nextHash  string
	confirmFn func(chainID int64, txHash string) (*wallet.Receipt, error)

	authRequests []wallet.Authorization
	authResult   *wallet.SignedAuthorization
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{address: "0x1111111111111111111111111111111111111111", nextHash: "0xaaa"}
}

func (f *fakeWallet) Address() string { return f.address }

func (f *fakeWallet) AccountType(ctx context.Context, chainID int64) (wallet.AccountType, error) {
	return wallet.AccountTypeEOA, nil
}

func (f *fakeWallet) SwitchChain(ctx context.Context, chainID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, chainID)
	return nil
}

func (f *fakeWallet) SignMessage(ctx context.Context, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signed = append(f.signed, message)
	return "0xsig191", nil
}

func (f *fakeWallet) SignTypedData(ctx context.Context, typedData json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed = append(f.typed, typedData)
	return "0x" + "ab" + fmt.Sprintf("%062d", len(f.typed)), nil
}

func (f *fakeWallet) SendTransaction(ctx context.Context, tx wallet.TransactionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return f.nextHash, nil
}

func (f *fakeWallet) SendCalls(ctx context.Context, chainID int64, calls []wallet.Call) (string, error) {
	return "0xbatch", nil
}

func (f *fakeWallet) SignAuthorization(ctx context.Context, auth wallet.Authorization) (*wallet.SignedAuthorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authRequests = append(f.authRequests, auth)
	if f.authResult != nil {
		return f.authResult, nil
	}
	return &wallet.SignedAuthorization{
		ChainID: auth.ChainID,
		Address: auth.Address,
		Nonce:   auth.Nonce,
		YParity: 1,
		R:       "0x01",
		S:       "0x02",
	}, nil
}

func (f *fakeWallet) Confirm(ctx context.Context, chainID int64, txHash string) (*wallet.Receipt, error) {
	if f.confirmFn != nil {
		return f.confirmFn(chainID, txHash)
	}
	return &wallet.Receipt{TxHash: txHash, ChainID: chainID, Success: true}, nil
}

func transactionQuote(chainID int64) *model.Quote {
	return &model.Quote{
		Steps: []*model.Step{{
			ID:   "deposit",
			Kind: model.StepKindTransaction,
			Items: []*model.Item{{
				Status: model.ItemStatusIncomplete,
				Data: model.ItemData{
					ChainID: chainID,
					To:      "0x2222222222222222222222222222222222222222",
					Value:   "1000",
					Input:   "0xdeadbeef",
				},
			}},
		}},
		Details: &model.QuoteDetails{
			Sender:      "0x1111111111111111111111111111111111111111",
			Recipient:   "0x3333333333333333333333333333333333333333",
			CurrencyIn:  &model.CurrencyAmount{ChainID: chainID, Amount: "1000"},
			CurrencyOut: &model.CurrencyAmount{ChainID: 10, Amount: "995"},
		},
	}
}

func signatureQuote(requestID string) *model.Quote {
	return &model.Quote{
		Steps: []*model.Step{{
			ID:        "order",
			Kind:      model.StepKindSignature,
			RequestID: requestID,
			Items: []*model.Item{{
				Status: model.ItemStatusIncomplete,
				Data: model.ItemData{
					ChainID: 8453,
					Sign:    &model.SignData{SignatureKind: "eip191", Message: "approve order"},
					Post:    &model.PostData{Endpoint: "/orders", Method: http.MethodPost, Body: json.RawMessage(`{"order":"payload"}`)},
					Check:   &model.CheckData{Endpoint: "/intents/status/v2?requestId=" + requestID},
				},
			}},
		}},
		Details: &model.QuoteDetails{
			Sender:      "0x1111111111111111111111111111111111111111",
			Recipient:   "0x3333333333333333333333333333333333333333",
			CurrencyIn:  &model.CurrencyAmount{ChainID: 8453, Amount: "1000"},
			CurrencyOut: &model.CurrencyAmount{ChainID: 10, Amount: "995"},
		},
	}
}
