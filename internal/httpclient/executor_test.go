package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDoJSON_RetriedPostResendsBody(t *testing.T) {
	var attempts atomic.Int32
	var bodies [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(server.Close)

	exec := New(zap.NewNop(), nil, server.Client(), 2, "test")
	payload := []byte(`{"order":"payload"}`)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, bytes.NewReader(payload))
	require.NoError(t, err)

	var out map[string]bool
	require.NoError(t, exec.DoJSON(context.Background(), req, "k", &out))
	assert.True(t, out["ok"])

	require.Len(t, bodies, 2)
	assert.Equal(t, payload, bodies[0])
	assert.Equal(t, payload, bodies[1], "retried attempt must carry the full body")
}

func TestDoJSON_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad order"}`))
	}))
	t.Cleanup(server.Close)

	exec := New(zap.NewNop(), nil, server.Client(), 2, "test")
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	doErr := exec.DoJSON(context.Background(), req, "k", nil)
	var se *StatusError
	require.ErrorAs(t, doErr, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDoJSON_CancelledContextStopsBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	exec := New(zap.NewNop(), nil, server.Client(), 5, "test")
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	cancel()
	doErr := exec.DoJSON(ctx, req, "k", nil)
	require.Error(t, doErr)
	assert.True(t, errors.Is(doErr, context.Canceled))
}
