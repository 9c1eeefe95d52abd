package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/chainrpc"
	"github.com/chainflow/relay-engine/internal/relay"
	"github.com/chainflow/relay-engine/internal/status"
	"github.com/chainflow/relay-engine/pkg/model"
)

// Config holds engine-level execution parameters.
type Config struct {
	PollInterval      time.Duration // interval between status polls
	MaxAttempts       int           // poll attempt budget
	GraceDelay        time.Duration // failure grace window
	Referrer          string
	ExecutorAddress   string  // fixed delegated-execution contract
	OriginGasOverhead *uint64 // configured default gas overhead hint
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 30
	}
	if c.GraceDelay <= 0 {
		c.GraceDelay = status.DefaultGraceDelay
	}
	return c
}

// Engine drives a negotiated quote through its steps to a terminal
// outcome, reconciling push and pull status sources along the way.
type Engine struct {
	logger *zap.Logger
	relay  *relay.Client
	chain  *chainrpc.Client
	cfg    Config
}

// New constructs an execution engine.
func New(logger *zap.Logger, relayClient *relay.Client, chainClient *chainrpc.Client, cfg Config) *Engine {
	return &Engine{
		logger: logger,
		relay:  relayClient,
		chain:  chainClient,
		cfg:    cfg.withDefaults(),
	}
}

// Options customizes a single execution.
type Options struct {
	ExecutionID string

	// OnProgress is invoked synchronously after every item mutation.
	OnProgress func(*model.ProgressSnapshot)

	// OnSettlementKnown is invoked with settlement metadata once it is
	// fetched after completion. Best-effort; see Execute.
	OnSettlementKnown func(*relay.RequestMetadata)

	// OnTerminalError receives push-channel terminal failures that occur
	// outside the awaited call stack.
	OnTerminalError func(model.CheckStatus, error)

	// PushSubscriber, when set, is given first chance to deliver the
	// terminal status; polling is the fallback once it reports failure.
	PushSubscriber *status.Subscriber
}

// execution is the per-run mutable state shared by the step handlers.
type execution struct {
	ctx   context.Context
	quote *model.Quote
	opts  Options
}

// emit recomputes the aggregate snapshot and delivers it to the caller.
// Once the execution's context is cancelled no further emissions occur,
// but in-flight wallet and network operations are not force-terminated.
func (ex *execution) emit(step *model.Step, item *model.Item) {
	if ex.ctx.Err() != nil {
		return
	}
	if ex.opts.OnProgress == nil {
		return
	}
	ex.opts.OnProgress(ex.quote.Snapshot(ex.opts.ExecutionID, step, item))
}
