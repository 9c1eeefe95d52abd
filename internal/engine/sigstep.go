package engine

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/httpclient"
	"github.com/chainflow/relay-engine/internal/metrics"
	"github.com/chainflow/relay-engine/internal/relay"
	"github.com/chainflow/relay-engine/internal/status"
	"github.com/chainflow/relay-engine/internal/wallet"
	"github.com/chainflow/relay-engine/pkg/model"
)

// runSignatureItem drives an item through its sign, post, and check
// sub-phases in order. Each phase is optional; a missing descriptor skips
// the phase. Posting may reveal server-issued continuation steps, which
// are appended to the quote for the orchestrator loop to pick up.
func (e *Engine) runSignatureItem(ex *execution, step *model.Step, item *model.Item, w wallet.Wallet) error {
	var signature string
	if item.Data.Sign != nil {
		item.ProgressState = model.ProgressStateSigning
		ex.emit(step, item)

		sig, err := signItem(ex, item.Data.Sign, w)
		if err != nil {
			return err
		}
		signature = sig
	}

	if item.Data.Post != nil {
		item.ProgressState = model.ProgressStatePosting
		ex.emit(step, item)

		expanded, err := e.postOrder(ex, step, item, signature)
		if err != nil {
			return err
		}
		if expanded {
			// The server replied with continuation steps instead of order
			// results. This item's work is done; the appended steps carry
			// the rest of the flow.
			item.Status = model.ItemStatusComplete
			item.ProgressState = model.ProgressStateComplete
			ex.emit(step, item)
			return nil
		}
	}

	if item.Data.Check == nil {
		item.Status = model.ItemStatusComplete
		item.ProgressState = model.ProgressStateComplete
		ex.emit(step, item)
		return nil
	}

	item.ProgressState = model.ProgressStateValidating
	ex.emit(step, item)
	return e.awaitValidation(ex, step, item)
}

func signItem(ex *execution, sign *model.SignData, w wallet.Wallet) (string, error) {
	switch sign.SignatureKind {
	case "eip191":
		sig, err := w.SignMessage(ex.ctx, sign.Message)
		if err != nil {
			return "", fmt.Errorf("sign message: %w", err)
		}
		return sig, nil
	case "eip712":
		sig, err := w.SignTypedData(ex.ctx, sign.TypedData)
		if err != nil {
			return "", fmt.Errorf("sign typed data: %w", err)
		}
		return sig, nil
	default:
		return "", fmt.Errorf("unsupported signature kind %q", sign.SignatureKind)
	}
}

// postOrder submits the signed payload. It reports whether the server
// responded with step expansion rather than order results.
func (e *Engine) postOrder(ex *execution, step *model.Step, item *model.Item, signature string) (bool, error) {
	endpoint := item.Data.Post.Endpoint
	if signature != "" {
		endpoint = appendQueryParam(endpoint, "signature", signature)
	}

	var body any = struct{}{}
	if len(item.Data.Post.Body) > 0 {
		body = item.Data.Post.Body
	}

	resp, err := e.relay.PostOrder(ex.ctx, endpoint, item.Data.Post.Method, body)
	if err != nil {
		return false, err
	}

	if len(resp.Steps) > 0 {
		e.logger.Info("engine.steps_expanded",
			zap.String("step_id", step.ID),
			zap.Int("new_steps", len(resp.Steps)),
		)
		ex.quote.Steps = append(ex.quote.Steps, resp.Steps...)
		return true, nil
	}
	if data := resp.OrderData(); data != nil {
		item.OrderData = data
	}
	return false, nil
}

func appendQueryParam(endpoint, key, value string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// awaitValidation reconciles push and pull status sources into the step
// until a terminal outcome. The push channel, when supplied, gets first
// chance; polling is the fallback once it is confirmed unavailable.
func (e *Engine) awaitValidation(ex *execution, step *model.Step, item *model.Item) error {
	requestID := step.RequestID
	if requestID == "" {
		requestID = ex.quote.RequestID()
	}

	tracker := status.NewTracker(e.logger, step,
		status.WithGraceDelay(e.cfg.GraceDelay),
		status.WithOnMutate(func(it *model.Item) { ex.emit(step, it) }),
		status.WithOnTerminal(func(st model.CheckStatus, err error) {
			metrics.StatusTerminalsTotal.WithLabelValues(string(st)).Inc()
			if err != nil && ex.opts.OnTerminalError != nil {
				ex.opts.OnTerminalError(st, err)
			}
		}),
	)
	defer tracker.Stop()

	if sub := ex.opts.PushSubscriber; sub != nil && requestID != "" {
		if err := sub.Subscribe(ex.ctx, requestID, tracker); err != nil {
			metrics.PushFailuresTotal.Inc()
			e.logger.Warn("engine.push_unavailable", zap.Error(err))
		} else {
			select {
			case <-tracker.Done():
				return terminalOutcome(tracker)
			case err := <-sub.Failed():
				metrics.PushFailuresTotal.Inc()
				e.logger.Warn("engine.push_failed_falling_back", zap.Error(err))
			case <-ex.ctx.Done():
				return ex.ctx.Err()
			}
		}
	}

	return e.pollCheck(ex, step, item, tracker)
}

// pollCheck polls the item's check endpoint on a fixed interval up to the
// attempt budget. Transport failures are logged and retried; a rejected
// request or an exhausted budget is fatal.
func (e *Engine) pollCheck(ex *execution, step *model.Step, item *model.Item, tracker *status.Tracker) error {
	fallbackDest, fallbackOrigin := e.fallbackChains(ex.quote, item)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if ex.ctx.Err() != nil {
			return ex.ctx.Err()
		}

		result, err := e.relay.CheckStatus(ex.ctx, item.Data.Check.Endpoint)
		switch {
		case err == nil:
			metrics.PollAttemptsTotal.WithLabelValues(result.Status).Inc()
			tracker.Apply(status.FromCheckResult(result, fallbackDest, fallbackOrigin))
			if _, ok := tracker.Terminal(); ok {
				return terminalOutcome(tracker)
			}

		case errors.Is(err, relay.ErrUnrecognizedStatus):
			metrics.PollAttemptsTotal.WithLabelValues("unrecognized").Inc()
			e.logger.Warn("engine.check_unrecognized",
				zap.String("step_id", step.ID),
				zap.Int("attempt", attempt))

		default:
			var se *httpclient.StatusError
			if errors.As(err, &se) {
				return fmt.Errorf("failed to check status: %s", string(se.Body))
			}
			metrics.PollAttemptsTotal.WithLabelValues("network_error").Inc()
			e.logger.Warn("engine.check_attempt_failed",
				zap.String("step_id", step.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}
		select {
		case <-tracker.Done():
			return terminalOutcome(tracker)
		case <-time.After(e.cfg.PollInterval):
		case <-ex.ctx.Done():
			return ex.ctx.Err()
		}
	}

	// A failure observed on the last attempt may still resolve within its
	// grace window; wait it out before declaring a timeout.
	if tracker.GraceActive() {
		select {
		case <-tracker.Done():
			return terminalOutcome(tracker)
		case <-time.After(e.cfg.GraceDelay + 250*time.Millisecond):
		case <-ex.ctx.Done():
			return ex.ctx.Err()
		}
	}
	if _, ok := tracker.Terminal(); ok {
		return terminalOutcome(tracker)
	}
	return fmt.Errorf("validation timed out after %d attempts", e.cfg.MaxAttempts)
}

func (e *Engine) fallbackChains(q *model.Quote, item *model.Item) (dest, origin int64) {
	origin = item.Data.ChainID
	if d := q.Details; d != nil {
		if d.CurrencyOut != nil {
			dest = d.CurrencyOut.ChainID
		}
		if origin == 0 && d.CurrencyIn != nil {
			origin = d.CurrencyIn.ChainID
		}
	}
	return dest, origin
}

func terminalOutcome(tracker *status.Tracker) error {
	st, ok := tracker.Terminal()
	if !ok {
		return fmt.Errorf("status tracker closed without a terminal outcome")
	}
	if st == model.CheckStatusSuccess {
		return nil
	}
	if err := tracker.Err(); err != nil {
		return err
	}
	return model.ErrTransactionFailed
}
