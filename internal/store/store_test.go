package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainflow/relay-engine/pkg/model"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(rdb, time.Minute, nil), mr
}

func testSnapshot(executionID string) *model.ProgressSnapshot {
	return &model.ProgressSnapshot{
		ExecutionID: executionID,
		Steps: []*model.Step{{
			ID:   "deposit",
			Kind: model.StepKindTransaction,
			Items: []*model.Item{{
				Status:      model.ItemStatusComplete,
				CheckStatus: model.CheckStatusSuccess,
				TxHashes:    []model.TxHash{{TxHash: "0xaaa", ChainID: 8453}},
			}},
		}},
		TxHashes: []model.TxHash{{TxHash: "0xaaa", ChainID: 8453}},
	}
}

func TestSetAndGetSnapshot(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SetSnapshot(ctx, "exec-1", testSnapshot("exec-1")))

	got, err := s.GetSnapshot(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", got.ExecutionID)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, model.CheckStatusSuccess, got.Steps[0].Items[0].CheckStatus)
	assert.Equal(t, []model.TxHash{{TxHash: "0xaaa", ChainID: 8453}}, got.TxHashes)
}

func TestGetSnapshot_Missing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetSnapshot(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshot_Overwrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	first := testSnapshot("exec-2")
	first.Refunded = false
	require.NoError(t, s.SetSnapshot(ctx, "exec-2", first))

	second := testSnapshot("exec-2")
	second.Refunded = true
	require.NoError(t, s.SetSnapshot(ctx, "exec-2", second))

	got, err := s.GetSnapshot(ctx, "exec-2")
	require.NoError(t, err)
	assert.True(t, got.Refunded)
}

func TestSnapshot_Expires(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.SetSnapshot(ctx, "exec-3", testSnapshot("exec-3")))
	mr.FastForward(2 * time.Minute)

	_, err := s.GetSnapshot(ctx, "exec-3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSnapshot(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SetSnapshot(ctx, "exec-4", testSnapshot("exec-4")))
	require.NoError(t, s.DeleteSnapshot(ctx, "exec-4"))

	_, err := s.GetSnapshot(ctx, "exec-4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHealthCheck(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, s.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, s.HealthCheck(context.Background()))
}
