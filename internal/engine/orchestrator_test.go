package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainflow/relay-engine/internal/relay"
	"github.com/chainflow/relay-engine/internal/wallet"
	"github.com/chainflow/relay-engine/pkg/model"
)

func noopServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestExecute_HappyPathTransaction(t *testing.T) {
	e := newTestEngine(t, noopServer(t), fastConfig())
	w := newFakeWallet()
	q := transactionQuote(8453)

	var snapshots []*model.ProgressSnapshot
	final, err := e.Execute(context.Background(), q, w, Options{
		ExecutionID: "exec-1",
		OnProgress:  func(s *model.ProgressSnapshot) { snapshots = append(snapshots, s) },
	})
	require.NoError(t, err)
	require.NotNil(t, final)

	require.Len(t, w.sent, 1)
	assert.Equal(t, int64(8453), w.sent[0].ChainID)
	assert.Equal(t, []int64{8453}, w.switched)

	item := q.Steps[0].Items[0]
	assert.Equal(t, model.ItemStatusComplete, item.Status)
	assert.Equal(t, []model.TxHash{{TxHash: "0xaaa", ChainID: 8453}}, item.TxHashes)
	assert.Equal(t, []model.TxHash{{TxHash: "0xaaa", ChainID: 8453}}, final.TxHashes)
	assert.NotEmpty(t, snapshots)
}

func TestExecute_BurnRecipientRejectedBeforeIO(t *testing.T) {
	e := newTestEngine(t, noopServer(t), fastConfig())
	w := newFakeWallet()
	q := transactionQuote(8453)
	q.Details.Recipient = "0x000000000000000000000000000000000000dEaD"

	_, err := e.Execute(context.Background(), q, w, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "burn address")
	assert.Empty(t, w.sent)
	assert.Empty(t, w.switched)
}

func TestExecute_NilWalletRejected(t *testing.T) {
	e := newTestEngine(t, noopServer(t), fastConfig())
	_, err := e.Execute(context.Background(), transactionQuote(8453), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")
}

func TestExecute_TransactionCancelled(t *testing.T) {
	e := newTestEngine(t, noopServer(t), fastConfig())
	w := newFakeWallet()
	w.confirmFn = func(chainID int64, txHash string) (*wallet.Receipt, error) {
		return nil, model.ErrTransactionCancelled
	}
	q := transactionQuote(8453)

	_, err := e.Execute(context.Background(), q, w, Options{})
	require.ErrorIs(t, err, model.ErrTransactionCancelled)
	assert.Equal(t, model.ItemStatusIncomplete, q.Steps[0].Items[0].Status)
}

func TestExecute_RevertedTransactionFails(t *testing.T) {
	e := newTestEngine(t, noopServer(t), fastConfig())
	w := newFakeWallet()
	w.confirmFn = func(chainID int64, txHash string) (*wallet.Receipt, error) {
		return &wallet.Receipt{TxHash: txHash, ChainID: chainID, Success: false}, nil
	}

	_, err := e.Execute(context.Background(), transactionQuote(8453), w, Options{})
	require.ErrorIs(t, err, model.ErrTransactionFailed)
	assert.Contains(t, err.Error(), "reverted")
}

func TestExecute_ReplacementSwapsHash(t *testing.T) {
	e := newTestEngine(t, noopServer(t), fastConfig())
	w := newFakeWallet()
	w.confirmFn = func(chainID int64, txHash string) (*wallet.Receipt, error) {
		return &wallet.Receipt{TxHash: "0xreplaced", ChainID: chainID, Success: true}, nil
	}
	q := transactionQuote(8453)

	_, err := e.Execute(context.Background(), q, w, Options{})
	require.NoError(t, err)

	hashes := q.Steps[0].Items[0].TxHashes
	require.Len(t, hashes, 1)
	assert.Equal(t, "0xreplaced", hashes[0].TxHash)
	assert.Equal(t, int64(8453), hashes[0].ChainID)
}

func TestReplaceHash_UnknownSubmittedAppendsWithChainID(t *testing.T) {
	hashes := []model.TxHash{{TxHash: "0xother", ChainID: 8453}}
	got := replaceHash(hashes, "0xmissing", "0xlanded", 8453)
	require.Len(t, got, 2)
	assert.Equal(t, model.TxHash{TxHash: "0xlanded", ChainID: 8453}, got[1])
}

func TestExecute_SequentialStepOrdering(t *testing.T) {
	e := newTestEngine(t, noopServer(t), fastConfig())
	w := newFakeWallet()

	q := transactionQuote(8453)
	q.Steps = append(q.Steps, &model.Step{
		ID:   "sweep",
		Kind: model.StepKindTransaction,
		Items: []*model.Item{{
			Status: model.ItemStatusIncomplete,
			Data: model.ItemData{
				ChainID: 10,
				To:      "0x4444444444444444444444444444444444444444",
			},
		}},
	})

	_, err := e.Execute(context.Background(), q, w, Options{})
	require.NoError(t, err)

	require.Len(t, w.sent, 2)
	assert.Equal(t, int64(8453), w.sent[0].ChainID)
	assert.Equal(t, int64(10), w.sent[1].ChainID)
	assert.True(t, q.Complete())
}

func TestExecute_AbortSuppressesProgress(t *testing.T) {
	e := newTestEngine(t, noopServer(t), fastConfig())
	ctx, cancel := context.WithCancel(context.Background())

	w := newFakeWallet()
	w.confirmFn = func(chainID int64, txHash string) (*wallet.Receipt, error) {
		cancel()
		return &wallet.Receipt{TxHash: txHash, ChainID: chainID, Success: true}, nil
	}

	var afterCancel int
	q := transactionQuote(8453)
	q.Steps = append(q.Steps, &model.Step{
		ID:    "never-runs",
		Kind:  model.StepKindTransaction,
		Items: []*model.Item{{Status: model.ItemStatusIncomplete, Data: model.ItemData{ChainID: 10, To: "0x4444444444444444444444444444444444444444"}}},
	})

	_, err := e.Execute(ctx, q, w, Options{
		OnProgress: func(s *model.ProgressSnapshot) {
			if ctx.Err() != nil {
				afterCancel++
			}
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, afterCancel)
	require.Len(t, w.sent, 1) // second step never began
}

func TestExecute_SettlementEnrichment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/requests/v2" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"requests": []map[string]any{{
					"id": "req-1",
					"data": map[string]any{
						"currencyOut": map[string]any{"chainId": 10, "amount": "990", "amountUsd": "990.00"},
					},
				}},
			})
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	e := newTestEngine(t, server, fastConfig())
	q := transactionQuote(8453)
	q.Steps[0].RequestID = "req-1"

	settled := make(chan *relay.RequestMetadata, 1)
	_, err := e.Execute(context.Background(), q, newFakeWallet(), Options{
		OnSettlementKnown: func(meta *relay.RequestMetadata) { settled <- meta },
	})
	require.NoError(t, err)

	select {
	case meta := <-settled:
		require.NotNil(t, meta.Data.CurrencyOut)
		assert.Equal(t, "990", q.Details.CurrencyOut.Amount)
		assert.Equal(t, "990.00", q.Details.CurrencyOut.AmountUSD)
	case <-time.After(2 * time.Second):
		t.Fatal("settlement metadata never delivered")
	}
}

func TestExecute_SettlementCorrectionReemitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/requests/v2" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"requests": []map[string]any{{
					"id": "req-1",
					"data": map[string]any{
						"currencyOut": map[string]any{"chainId": 10, "amount": "990", "amountUsd": "990.00"},
					},
				}},
			})
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	e := newTestEngine(t, server, fastConfig())
	q := transactionQuote(8453)
	q.Steps[0].RequestID = "req-1"

	// Settlement runs with only the progress callback wired; the corrected
	// amount must arrive as one additional snapshot.
	amounts := make(chan string, 8)
	_, err := e.Execute(context.Background(), q, newFakeWallet(), Options{
		OnProgress: func(s *model.ProgressSnapshot) {
			if s.Details != nil && s.Details.CurrencyOut != nil {
				amounts <- s.Details.CurrencyOut.Amount
			}
		},
	})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case amt := <-amounts:
			if amt == "990" {
				return
			}
		case <-deadline:
			t.Fatal("no snapshot carried the corrected amount")
		}
	}
}

func TestValidateQuote_MissingChainID(t *testing.T) {
	e := newTestEngine(t, noopServer(t), fastConfig())
	q := transactionQuote(8453)
	q.Steps[0].ChainID = 0
	q.Steps[0].Items[0].Data.ChainID = 0

	_, err := e.Execute(context.Background(), q, newFakeWallet(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chain id")
}

func TestApplySettlement_EqualAmountUntouched(t *testing.T) {
	q := transactionQuote(8453)
	q.Details.CurrencyOut.AmountUSD = "quoted"

	changed := applySettlement(q, &relay.RequestMetadata{
		Data: relay.RequestData{
			CurrencyOut: &model.CurrencyAmount{Amount: "995", AmountUSD: "settled"},
		},
	})
	assert.False(t, changed)
	assert.Equal(t, "quoted", q.Details.CurrencyOut.AmountUSD)
}
