package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/chainrpc"
	"github.com/chainflow/relay-engine/internal/metrics"
	"github.com/chainflow/relay-engine/internal/relay"
	"github.com/chainflow/relay-engine/internal/wallet"
	"github.com/chainflow/relay-engine/pkg/model"
)

// DelegatedOptions customizes a delegated batch execution.
type DelegatedOptions struct {
	// OriginGasOverhead, when set, wins over the configured default. When
	// neither is set the field is omitted from the submission entirely.
	OriginGasOverhead *uint64
	SubsidizeFees     bool
}

// ExecuteDelegated collapses every transaction-kind step of the quote into
// one atomic call batch, establishes the executor delegation if absent,
// obtains one typed-data signature over the batch, submits it as a single
// sponsored request, and polls to a terminal outcome. Returns the request
// id under which the execution settled.
func (e *Engine) ExecuteDelegated(ctx context.Context, q *model.Quote, w wallet.Wallet, opts DelegatedOptions) (string, error) {
	if e.relay == nil || e.relay.BaseURL() == "" {
		return "", fmt.Errorf("relay base url is not configured")
	}
	if !e.relay.HasCredential() {
		return "", fmt.Errorf("api access credential is not configured")
	}
	if w == nil || w.Address() == "" {
		return "", fmt.Errorf("wallet exposes no account")
	}
	if e.cfg.ExecutorAddress == "" {
		return "", fmt.Errorf("executor address is not configured")
	}

	calls, chainID, requestID, err := flattenTransactionSteps(q)
	if err != nil {
		return "", err
	}

	started := time.Now()
	account := w.Address()

	auth, err := e.ensureDelegation(ctx, chainID, account, w)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("delegated", "failed").Inc()
		return "", err
	}

	nonce, err := e.executorNonce(ctx, chainID, account)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("delegated", "failed").Inc()
		return "", err
	}

	typedData, err := buildBatchTypedData(chainID, e.cfg.ExecutorAddress, calls, nonce)
	if err != nil {
		return "", err
	}
	sig, err := w.SignTypedData(ctx, typedData)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("delegated", "failed").Inc()
		return "", fmt.Errorf("sign batch: %w", err)
	}
	sigBytes, err := chainrpc.HexToBytes(sig)
	if err != nil {
		return "", fmt.Errorf("decode batch signature: %w", err)
	}

	envelope := chainrpc.EncodeSignatureEnvelope(sigBytes, nil, nil)
	callData, err := chainrpc.EncodeExecuteBatch(calls, nonce, envelope)
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}

	er := &relay.ExecuteRequest{
		ExecutionKind: "rawCalls",
		Data: relay.ExecuteCallData{
			ChainID: chainID,
			To:      e.cfg.ExecutorAddress,
			Data:    callData,
			Value:   sumCallValues(calls).String(),
		},
		ExecutionOptions: relay.ExecutionOptions{
			Referrer:      e.cfg.Referrer,
			SubsidizeFees: opts.SubsidizeFees,
		},
		OriginGasOverhead: e.gasOverhead(opts.OriginGasOverhead),
		RequestID:         requestID,
	}
	if auth != nil {
		er.Data.AuthorizationList = []*relay.Authorization{{
			ChainID: auth.ChainID,
			Address: auth.Address,
			Nonce:   auth.Nonce,
			YParity: auth.YParity,
			R:       auth.R,
			S:       auth.S,
		}}
	}

	resp, err := e.relay.SubmitExecution(ctx, er)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("delegated", "failed").Inc()
		return "", err
	}
	settledID := resp.RequestID
	if settledID == "" {
		settledID = requestID
	}

	e.logger.Info("engine.delegated_submitted",
		zap.String("request_id", settledID),
		zap.Int64("chain_id", chainID),
		zap.Int("calls", len(calls)),
		zap.Bool("fresh_authorization", auth != nil),
	)

	if err := e.pollTerminal(ctx, settledID); err != nil {
		metrics.ExecutionsTotal.WithLabelValues("delegated", "failed").Inc()
		return "", err
	}

	metrics.ExecutionsTotal.WithLabelValues("delegated", "success").Inc()
	metrics.ExecutionDuration.WithLabelValues("delegated").Observe(time.Since(started).Seconds())
	return settledID, nil
}

// gasOverhead resolves the overhead hint: explicit parameter, then the
// configured default, then omitted.
func (e *Engine) gasOverhead(explicit *uint64) *uint64 {
	if explicit != nil {
		return explicit
	}
	return e.cfg.OriginGasOverhead
}

// flattenTransactionSteps collapses transaction-step items into one ordered
// call list, recording the first seen chain id and request id.
func flattenTransactionSteps(q *model.Quote) ([]chainrpc.BatchCall, int64, string, error) {
	var (
		calls     []chainrpc.BatchCall
		chainID   int64
		requestID string
	)
	for _, step := range q.Steps {
		if step.Kind != model.StepKindTransaction {
			continue
		}
		if requestID == "" && step.RequestID != "" {
			requestID = step.RequestID
		}
		for _, item := range step.Items {
			if chainID == 0 {
				chainID = item.Data.ChainID
			}
			value, err := parseBigInt(item.Data.Value)
			if err != nil {
				return nil, 0, "", fmt.Errorf("step %q: invalid call value %q", step.ID, item.Data.Value)
			}
			data, err := chainrpc.HexToBytes(item.Data.Input)
			if err != nil {
				return nil, 0, "", fmt.Errorf("step %q: invalid call data: %w", step.ID, err)
			}
			calls = append(calls, chainrpc.BatchCall{
				To:    item.Data.To,
				Value: value,
				Data:  data,
			})
		}
	}
	if len(calls) == 0 {
		return nil, 0, "", fmt.Errorf("quote has no transaction steps to batch")
	}
	if chainID == 0 {
		return nil, 0, "", fmt.Errorf("batched calls carry no chain id")
	}
	return calls, chainID, requestID, nil
}

// ensureDelegation checks whether the account already delegates to the
// executor and, if not, obtains a signed authorization for it.
func (e *Engine) ensureDelegation(ctx context.Context, chainID int64, account string, w wallet.Wallet) (*wallet.SignedAuthorization, error) {
	code, err := e.chain.GetCode(ctx, chainID, account)
	if err != nil {
		return nil, fmt.Errorf("read account code: %w", err)
	}
	if chainrpc.IsDelegatedTo(code, e.cfg.ExecutorAddress) {
		return nil, nil
	}

	nonce, err := e.chain.TransactionCount(ctx, chainID, account)
	if err != nil {
		return nil, fmt.Errorf("read account nonce: %w", err)
	}
	auth, err := w.SignAuthorization(ctx, wallet.Authorization{
		ChainID: chainID,
		Address: e.cfg.ExecutorAddress,
		Nonce:   nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("sign delegation authorization: %w", err)
	}
	return auth, nil
}

// executorNonce reads the executor contract's per-account batch nonce.
func (e *Engine) executorNonce(ctx context.Context, chainID int64, account string) (uint64, error) {
	callData, err := chainrpc.EncodeNonceCall(account)
	if err != nil {
		return 0, err
	}
	out, err := e.chain.CallContract(ctx, chainID, e.cfg.ExecutorAddress, callData)
	if err != nil {
		return 0, fmt.Errorf("read executor nonce: %w", err)
	}
	raw, err := chainrpc.HexToBytes(out)
	if err != nil {
		return 0, fmt.Errorf("decode executor nonce: %w", err)
	}
	return new(big.Int).SetBytes(raw).Uint64(), nil
}

// buildBatchTypedData constructs the EIP-712 payload signed over the batch.
func buildBatchTypedData(chainID int64, executor string, calls []chainrpc.BatchCall, nonce uint64) (json.RawMessage, error) {
	type typedCall struct {
		To    string `json:"to"`
		Value string `json:"value"`
		Data  string `json:"data"`
	}
	typedCalls := make([]typedCall, len(calls))
	for i, c := range calls {
		value := c.Value
		if value == nil {
			value = big.NewInt(0)
		}
		typedCalls[i] = typedCall{
			To:    c.To,
			Value: value.String(),
			Data:  "0x" + fmt.Sprintf("%x", c.Data),
		}
	}

	payload := map[string]any{
		"domain": map[string]any{
			"name":              "Executor",
			"version":           "1",
			"chainId":           chainID,
			"verifyingContract": executor,
		},
		"types": map[string]any{
			"Call": []map[string]string{
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "data", "type": "bytes"},
			},
			"Execute": []map[string]string{
				{"name": "calls", "type": "Call[]"},
				{"name": "nonce", "type": "uint256"},
			},
		},
		"primaryType": "Execute",
		"message": map[string]any{
			"calls": typedCalls,
			"nonce": fmt.Sprintf("%d", nonce),
		},
	}
	return json.Marshal(payload)
}

// pollTerminal polls the shared status endpoint until the execution
// settles. Transient per-attempt errors are swallowed.
func (e *Engine) pollTerminal(ctx context.Context, requestID string) error {
	endpoint := fmt.Sprintf("/intents/status/v3?requestId=%s", requestID)
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := e.relay.CheckStatus(ctx, endpoint)
		if err != nil {
			metrics.PollAttemptsTotal.WithLabelValues("network_error").Inc()
			e.logger.Warn("engine.delegated_check_failed",
				zap.String("request_id", requestID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			metrics.PollAttemptsTotal.WithLabelValues(result.Status).Inc()
			switch model.CheckStatus(result.Status) {
			case model.CheckStatusSuccess:
				return nil
			case model.CheckStatusRefund:
				return model.ErrRefunded
			case model.CheckStatusFailure:
				if result.Details != "" {
					return fmt.Errorf("%w: %s", model.ErrTransactionFailed, result.Details)
				}
				return model.ErrTransactionFailed
			}
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("delegated execution timed out after %d attempts", e.cfg.MaxAttempts)
}

func parseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func sumCallValues(calls []chainrpc.BatchCall) *big.Int {
	total := big.NewInt(0)
	for _, c := range calls {
		if c.Value != nil {
			total.Add(total, c.Value)
		}
	}
	return total
}
