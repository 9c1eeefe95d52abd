package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/pkg/model"
)

type memorySnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]*model.ProgressSnapshot
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{snaps: make(map[string]*model.ProgressSnapshot)}
}

func (m *memorySnapshotStore) SetSnapshot(ctx context.Context, id string, snap *model.ProgressSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[id] = snap
	return nil
}

func (m *memorySnapshotStore) GetSnapshot(ctx context.Context, id string) (*model.ProgressSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[id], nil
}

type capturingEvents struct {
	mu     sync.Mutex
	events []model.SwapStatusEvent
}

func (c *capturingEvents) PublishSwapStatus(ctx context.Context, ev model.SwapStatusEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capturingEvents) list() []model.SwapStatusEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.SwapStatusEvent(nil), c.events...)
}

func TestService_ExecuteSwap_StoresAndPublishes(t *testing.T) {
	e := newTestEngine(t, noopServer(t), fastConfig())
	st := newMemorySnapshotStore()
	ev := &capturingEvents{}
	svc := NewService(zap.NewNop(), e, newFakeWallet(), st, ev, "")

	cmd := &model.ExecuteSwapCommand{ExecutionID: "exec-svc-1", Quote: transactionQuote(8453)}
	require.NoError(t, svc.ExecuteSwap(context.Background(), cmd))

	snap, err := svc.Progress(context.Background(), "exec-svc-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []model.TxHash{{TxHash: "0xaaa", ChainID: 8453}}, snap.TxHashes)

	events := ev.list()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.CheckStatusSuccess, last.Status)
	assert.True(t, last.Final)
	assert.Empty(t, last.Error)
}

func TestService_ExecuteSwap_RefundPublishesRefund(t *testing.T) {
	server, _, _ := checkSequenceServer(t, []map[string]any{
		{"status": "pending"},
		{"status": "refund"},
	})
	e := newTestEngine(t, server, fastConfig())
	ev := &capturingEvents{}
	svc := NewService(zap.NewNop(), e, newFakeWallet(), newMemorySnapshotStore(), ev, "")

	cmd := &model.ExecuteSwapCommand{ExecutionID: "exec-svc-2", Quote: signatureQuote("req-svc")}
	err := svc.ExecuteSwap(context.Background(), cmd)
	require.ErrorIs(t, err, model.ErrRefunded)

	events := ev.list()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.CheckStatusRefund, last.Status)
	assert.Contains(t, last.Error, "refunded")
	assert.True(t, last.Final)
}

func TestService_ExecuteSwap_NoQuote(t *testing.T) {
	svc := NewService(zap.NewNop(), newTestEngine(t, noopServer(t), fastConfig()), newFakeWallet(), nil, nil, "")
	err := svc.ExecuteSwap(context.Background(), &model.ExecuteSwapCommand{ExecutionID: "exec-x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no quote")
}
