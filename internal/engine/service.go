package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/relay"
	"github.com/chainflow/relay-engine/internal/status"
	"github.com/chainflow/relay-engine/internal/wallet"
	"github.com/chainflow/relay-engine/pkg/model"
)

// SnapshotStore caches the latest progress snapshot per execution.
type SnapshotStore interface {
	SetSnapshot(ctx context.Context, executionID string, snap *model.ProgressSnapshot) error
	GetSnapshot(ctx context.Context, executionID string) (*model.ProgressSnapshot, error)
}

// EventPublisher emits swap status events.
type EventPublisher interface {
	PublishSwapStatus(ctx context.Context, ev model.SwapStatusEvent) error
}

// Service runs execution commands end to end: it drives the engine,
// caches progress snapshots, and publishes status events. It is the
// entry point shared by the HTTP API and the command consumer.
type Service struct {
	logger *zap.Logger
	engine *Engine
	wallet wallet.Wallet
	store  SnapshotStore
	events EventPublisher
	wsURL  string
}

// NewService wires the execution service. store and events may be nil;
// the corresponding side effects are skipped.
func NewService(logger *zap.Logger, eng *Engine, w wallet.Wallet, store SnapshotStore, events EventPublisher, wsURL string) *Service {
	return &Service{
		logger: logger,
		engine: eng,
		wallet: w,
		store:  store,
		events: events,
		wsURL:  wsURL,
	}
}

// ExecuteSwap runs one command to its terminal outcome.
func (s *Service) ExecuteSwap(ctx context.Context, cmd *model.ExecuteSwapCommand) error {
	if cmd.Quote == nil {
		return fmt.Errorf("command %s carries no quote", cmd.ExecutionID)
	}
	if cmd.Delegated {
		return s.executeDelegated(ctx, cmd)
	}
	return s.executeStandard(ctx, cmd)
}

func (s *Service) executeStandard(ctx context.Context, cmd *model.ExecuteSwapCommand) error {
	opts := Options{
		ExecutionID: cmd.ExecutionID,
		OnProgress: func(snap *model.ProgressSnapshot) {
			s.saveSnapshot(ctx, cmd.ExecutionID, snap)
		},
		OnTerminalError: func(st model.CheckStatus, err error) {
			s.publishStatus(ctx, cmd, st, err, true)
		},
		OnSettlementKnown: func(_ *relay.RequestMetadata) {
			s.saveSnapshot(ctx, cmd.ExecutionID, cmd.Quote.Snapshot(cmd.ExecutionID, nil, nil))
		},
	}
	if s.wsURL != "" {
		opts.PushSubscriber = status.NewSubscriber(s.logger, s.wsURL)
	}

	snap, err := s.engine.Execute(ctx, cmd.Quote, s.wallet, opts)
	if err != nil {
		s.logger.Error("service.execution_failed",
			zap.String("execution_id", cmd.ExecutionID),
			zap.Error(err))
		s.publishStatus(ctx, cmd, terminalStatus(cmd.Quote), err, true)
		return err
	}

	s.saveSnapshot(ctx, cmd.ExecutionID, snap)
	s.publishStatus(ctx, cmd, model.CheckStatusSuccess, nil, true)
	return nil
}

func (s *Service) executeDelegated(ctx context.Context, cmd *model.ExecuteSwapCommand) error {
	requestID, err := s.engine.ExecuteDelegated(ctx, cmd.Quote, s.wallet, DelegatedOptions{
		SubsidizeFees: true,
	})
	if err != nil {
		s.logger.Error("service.delegated_failed",
			zap.String("execution_id", cmd.ExecutionID),
			zap.Error(err))
		s.publishStatus(ctx, cmd, terminalStatus(cmd.Quote), err, true)
		return err
	}

	for _, step := range cmd.Quote.Steps {
		if step.RequestID == "" {
			step.RequestID = requestID
		}
	}
	s.saveSnapshot(ctx, cmd.ExecutionID, cmd.Quote.Snapshot(cmd.ExecutionID, nil, nil))
	s.publishStatus(ctx, cmd, model.CheckStatusSuccess, nil, true)
	return nil
}

// Progress returns the latest cached snapshot for an execution.
func (s *Service) Progress(ctx context.Context, executionID string) (*model.ProgressSnapshot, error) {
	if s.store == nil {
		return nil, fmt.Errorf("snapshot store is not configured")
	}
	return s.store.GetSnapshot(ctx, executionID)
}

func (s *Service) saveSnapshot(ctx context.Context, executionID string, snap *model.ProgressSnapshot) {
	if s.store == nil || snap == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.store.SetSnapshot(saveCtx, executionID, snap); err != nil {
		s.logger.Warn("service.snapshot_save_failed",
			zap.String("execution_id", executionID),
			zap.Error(err))
	}
}

func (s *Service) publishStatus(ctx context.Context, cmd *model.ExecuteSwapCommand, st model.CheckStatus, execErr error, final bool) {
	if s.events == nil {
		return
	}
	ev := model.SwapStatusEvent{
		ExecutionID: cmd.ExecutionID,
		RequestID:   cmd.Quote.RequestID(),
		Status:      st,
		Final:       final,
		Timestamp:   time.Now().UTC(),
	}
	if execErr != nil {
		ev.Error = execErr.Error()
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.PublishSwapStatus(pubCtx, ev); err != nil {
		s.logger.Warn("service.event_publish_failed",
			zap.String("execution_id", cmd.ExecutionID),
			zap.Error(err))
	}
}

// terminalStatus derives the dominant failure status from the quote's items.
func terminalStatus(q *model.Quote) model.CheckStatus {
	for _, step := range q.Steps {
		for _, it := range step.Items {
			if it.CheckStatus == model.CheckStatusRefund {
				return model.CheckStatusRefund
			}
		}
	}
	return model.CheckStatusFailure
}
