package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/metrics"
	"github.com/chainflow/relay-engine/internal/relay"
	"github.com/chainflow/relay-engine/internal/wallet"
	"github.com/chainflow/relay-engine/pkg/model"
)

// Execute runs every step of the quote in order until all items are
// complete, then resolves settlement metadata. Steps appended by the
// server during signature posting are picked up by the loop.
//
// Cancel the context to abort: no further progress is emitted and no
// new step begins, but operations already in flight run to completion.
func (e *Engine) Execute(ctx context.Context, q *model.Quote, w wallet.Wallet, opts Options) (*model.ProgressSnapshot, error) {
	if err := e.validateQuote(q, w); err != nil {
		return nil, err
	}

	started := time.Now()
	ex := &execution{ctx: ctx, quote: q, opts: opts}

	e.logger.Info("engine.execution_started",
		zap.String("execution_id", opts.ExecutionID),
		zap.Int("steps", len(q.Steps)),
	)

	// Index-based loop: sigstep posting may append server-issued steps.
	for i := 0; i < len(q.Steps); i++ {
		if ctx.Err() != nil {
			metrics.ExecutionsTotal.WithLabelValues("standard", "aborted").Inc()
			return nil, ctx.Err()
		}
		step := q.Steps[i]
		if step.Complete() {
			continue
		}
		if err := e.runStep(ex, step, w); err != nil {
			metrics.ExecutionsTotal.WithLabelValues("standard", "failed").Inc()
			return nil, err
		}
	}

	metrics.ExecutionsTotal.WithLabelValues("standard", "success").Inc()
	metrics.ExecutionDuration.WithLabelValues("standard").Observe(time.Since(started).Seconds())

	snapshot := q.Snapshot(opts.ExecutionID, nil, nil)
	e.enrichSettlement(ex)
	return snapshot, nil
}

func (e *Engine) runStep(ex *execution, step *model.Step, w wallet.Wallet) error {
	for _, item := range step.IncompleteItems() {
		switch step.Kind {
		case model.StepKindTransaction:
			if err := e.runTransactionItem(ex, step, item, w); err != nil {
				return err
			}
		case model.StepKindSignature:
			if err := e.runSignatureItem(ex, step, item, w); err != nil {
				return err
			}
		default:
			return fmt.Errorf("step %q: unsupported kind %q", step.ID, step.Kind)
		}
	}
	return nil
}

// enrichSettlement fetches final request metadata after completion and
// folds the realized amounts into the quote details. It runs whenever a
// request id exists; a corrected destination amount is re-emitted as one
// additional progress snapshot. Failures here never fail the execution.
func (e *Engine) enrichSettlement(ex *execution) {
	requestID := ex.quote.RequestID()
	if requestID == "" {
		return
	}
	go func() {
		meta, err := e.relay.GetRequest(context.WithoutCancel(ex.ctx), requestID)
		if err != nil {
			e.logger.Warn("engine.settlement_fetch_failed",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
			return
		}
		if applySettlement(ex.quote, meta) {
			ex.emit(nil, nil)
		}
		if ex.opts.OnSettlementKnown != nil {
			ex.opts.OnSettlementKnown(meta)
		}
	}()
}

// applySettlement overwrites the quoted output with the realized one.
// It reports whether the amounts differed.
func applySettlement(q *model.Quote, meta *relay.RequestMetadata) bool {
	if meta == nil || q.Details == nil {
		return false
	}
	out := meta.Data.CurrencyOut
	if out == nil || q.Details.CurrencyOut == nil {
		return false
	}
	quoted := q.Details.CurrencyOut
	if out.Amount == "" || quoted.AmountDecimal().Equal(out.AmountDecimal()) {
		return false
	}
	quoted.Amount = out.Amount
	quoted.AmountFormatted = out.AmountFormatted
	quoted.AmountUSD = out.AmountUSD
	return true
}
