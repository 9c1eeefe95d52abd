package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/httpclient"
)

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic("test helper writeJSON: " + err.Error())
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	exec := httpclient.New(zap.NewNop(), nil, server.Client(), 0, "relay")
	return NewClient(zap.NewNop(), exec, server.URL, "test-key")
}

func TestNormalizeCheckEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://api.example.com/intents/status/v2?requestId=abc", "https://api.example.com/intents/status/v3?requestId=abc"},
		{"https://api.example.com/intents/status?requestId=abc", "https://api.example.com/intents/status/v3?requestId=abc"},
		{"https://api.example.com/intents/status/v3?requestId=abc", "https://api.example.com/intents/status/v3?requestId=abc"},
		{"https://api.example.com/orders/xyz", "https://api.example.com/orders/xyz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCheckEndpoint(tt.in), tt.in)
	}
}

func TestClient_PostOrder_Expansion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		writeJSON(w, map[string]any{"steps": []map[string]any{
			{"id": "authorize1", "kind": "signature"},
		}})
	})

	resp, err := client.PostOrder(context.Background(), "/execute/permits", http.MethodPost, map[string]any{"signature": "0xsig"})
	require.NoError(t, err)
	require.Len(t, resp.Steps, 1)
	assert.Equal(t, "authorize1", resp.Steps[0].ID)
	assert.Nil(t, resp.OrderData())
}

func TestClient_PostOrder_Results(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"orderId": "ord-1", "crossPostingOrderId": "cp-1", "orderIndex": 0})
	})

	resp, err := client.PostOrder(context.Background(), "/execute/permits", http.MethodPost, nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Steps)
	require.NotNil(t, resp.OrderData())
	assert.Contains(t, string(resp.OrderData()), "ord-1")
}

func TestClient_PostOrder_ErrorSurfacesBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"order expired"}`))
	})

	_, err := client.PostOrder(context.Background(), "/execute/permits", http.MethodPost, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order expired")
}

func TestClient_CheckStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/intents/status/v3", r.URL.Path)
		writeJSON(w, map[string]any{
			"status":             "submitted",
			"txHashes":           []string{"0xbbb"},
			"inTxHashes":         []string{"0xaaa"},
			"originChainId":      1,
			"destinationChainId": 8453,
		})
	})

	res, err := client.CheckStatus(context.Background(), "/intents/status/v2?requestId=req-1")
	require.NoError(t, err)
	assert.Equal(t, "submitted", res.Status)
	assert.Equal(t, []string{"0xbbb"}, res.TxHashes)
	assert.EqualValues(t, 8453, res.DestinationChainID)
}

func TestClient_CheckStatus_UnrecognizedShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"unexpected": true})
	})

	_, err := client.CheckStatus(context.Background(), "/intents/status/v3?requestId=req-1")
	assert.ErrorIs(t, err, ErrUnrecognizedStatus)
}

func TestClient_GetRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/requests/v2", r.URL.Path)
		assert.Equal(t, "req-1", r.URL.Query().Get("id"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		writeJSON(w, map[string]any{"requests": []map[string]any{{
			"id": "req-1",
			"data": map[string]any{
				"currencyOut": map[string]any{"amount": "995000", "chainId": 8453},
			},
		}}})
	})

	meta, err := client.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.NotNil(t, meta.Data.CurrencyOut)
	assert.Equal(t, "995000", meta.Data.CurrencyOut.Amount)
}

func TestClient_SubmitExecution(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute/v1", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rawCalls", body["executionKind"])

		writeJSON(w, map[string]any{"requestId": "req-9", "message": "accepted"})
	})

	resp, err := client.SubmitExecution(context.Background(), &ExecuteRequest{
		ExecutionKind: "rawCalls",
		Data:          ExecuteCallData{ChainID: 8453, To: "0xexec", Data: "0x", Value: "0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "req-9", resp.RequestID)
}

type fakeCredentialSource struct {
	key         string
	valueCalls  int
	invalidated int
}

func (f *fakeCredentialSource) Value(ctx context.Context) (string, error) {
	f.valueCalls++
	return f.key, nil
}

func (f *fakeCredentialSource) Invalidate() { f.invalidated++ }

func TestClient_CredentialSourceResolvedPerRequest(t *testing.T) {
	src := &fakeCredentialSource{key: "resolved-key"}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "resolved-key", r.Header.Get("x-api-key"))
		writeJSON(w, map[string]any{"status": "pending"})
	})
	client.SetCredentialSource(src)

	_, err := client.CheckStatus(context.Background(), "/intents/status/v3?requestId=req-1")
	require.NoError(t, err)
	_, err = client.CheckStatus(context.Background(), "/intents/status/v3?requestId=req-1")
	require.NoError(t, err)

	assert.Equal(t, 2, src.valueCalls)
	assert.Zero(t, src.invalidated)
	assert.True(t, client.HasCredential())
}

func TestClient_UnauthorizedInvalidatesCredential(t *testing.T) {
	src := &fakeCredentialSource{key: "stale-key"}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	})
	client.SetCredentialSource(src)

	_, err := client.CheckStatus(context.Background(), "/intents/status/v3?requestId=req-1")
	require.Error(t, err)
	assert.Equal(t, 1, src.invalidated, "401 should bust the credential cache")
}
