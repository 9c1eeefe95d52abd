package status

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/pkg/model"
)

// DefaultGraceDelay is how long a failure notification may be superseded
// by a later status before it is treated as final. Server-side settlement
// can transition pending -> failure -> pending -> refund.
const DefaultGraceDelay = 2 * time.Second

// Update is one status observation, identical in shape whether it arrived
// over the push channel or the pull endpoint.
type Update struct {
	Status     model.CheckStatus
	TxHashes   []model.TxHash
	InTxHashes []model.TxHash
	Details    string
}

// Tracker merges push and pull updates for a single request id into the
// bound step's items. It is the single ordered merge point: both sources
// call Apply, and the status lattice rejects regressions.
type Tracker struct {
	logger     *zap.Logger
	step       *model.Step
	graceDelay time.Duration

	onMutate   func(item *model.Item)
	onTerminal func(status model.CheckStatus, err error)

	mu             sync.Mutex
	grace          *time.Timer
	failureDetails string
	terminal       model.CheckStatus
	terminalErr    error
	done           chan struct{}
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithGraceDelay overrides the failure grace window.
func WithGraceDelay(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.graceDelay = d }
}

// WithOnMutate registers a callback invoked once per item mutation.
func WithOnMutate(fn func(*model.Item)) TrackerOption {
	return func(t *Tracker) { t.onMutate = fn }
}

// WithOnTerminal registers a callback invoked exactly once when the
// tracker reaches a terminal outcome.
func WithOnTerminal(fn func(model.CheckStatus, error)) TrackerOption {
	return func(t *Tracker) { t.onTerminal = fn }
}

// NewTracker binds a tracker to the step whose items it reconciles.
func NewTracker(logger *zap.Logger, step *model.Step, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		logger:     logger,
		step:       step,
		graceDelay: DefaultGraceDelay,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Done is closed when the tracker reaches a terminal outcome.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Terminal returns the terminal status once reached.
func (t *Tracker) Terminal() (model.CheckStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminal, t.terminal != ""
}

// Err returns the terminal error, if the terminal outcome carries one.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminalErr
}

// GraceActive reports whether a failure grace timer is currently pending.
func (t *Tracker) GraceActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.grace != nil
}

// Stop cancels any pending grace timer. It does not mark the tracker
// terminal; use it when abandoning an execution.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.grace != nil {
		t.grace.Stop()
		t.grace = nil
	}
}

// Apply reconciles one status update into the bound step. Updates arriving
// after a terminal outcome are discarded.
func (t *Tracker) Apply(u Update) {
	t.mu.Lock()
	if t.terminal != "" {
		t.mu.Unlock()
		t.logger.Debug("status.update_after_terminal",
			zap.String("status", string(u.Status)),
			zap.String("terminal", string(t.terminal)))
		return
	}

	// Any non-failure signal cancels a pending failure grace timer: the
	// most recent status wins over an ambiguous failure.
	if u.Status != model.CheckStatusFailure && t.grace != nil {
		t.grace.Stop()
		t.grace = nil
		t.logger.Info("status.failure_superseded",
			zap.String("by", string(u.Status)))
	}

	var mutated []*model.Item
	var terminalStatus model.CheckStatus
	var terminalErr error

	switch u.Status {
	case model.CheckStatusPending:
		mutated = t.patchItems(u, model.CheckStatusPending, false)

	case model.CheckStatusSubmitted:
		mutated = t.patchItems(u, model.CheckStatusSubmitted, true)

	case model.CheckStatusSuccess:
		for _, it := range t.step.Items {
			if it.Status == model.ItemStatusComplete {
				continue
			}
			it.TxHashes = model.MergeTxHashes(it.TxHashes, u.TxHashes)
			it.InternalTxHashes = model.MergeTxHashes(it.InternalTxHashes, u.InTxHashes)
			if it.CheckStatus.CanTransition(model.CheckStatusSuccess) {
				it.CheckStatus = model.CheckStatusSuccess
			}
			it.Status = model.ItemStatusComplete
			it.ProgressState = model.ProgressStateComplete
			mutated = append(mutated, it)
		}
		terminalStatus = model.CheckStatusSuccess

	case model.CheckStatusRefund:
		for _, it := range t.step.Items {
			if it.Status == model.ItemStatusComplete {
				continue
			}
			if it.CheckStatus.CanTransition(model.CheckStatusRefund) {
				it.CheckStatus = model.CheckStatusRefund
				it.Error = model.ErrRefunded.Error()
				mutated = append(mutated, it)
			}
		}
		terminalStatus = model.CheckStatusRefund
		terminalErr = model.ErrRefunded

	case model.CheckStatusFailure:
		// Not immediately terminal: a failure can resolve into pending or
		// refund. Each new failure restarts the grace timer.
		t.failureDetails = u.Details
		if t.grace != nil {
			t.grace.Stop()
		}
		t.grace = time.AfterFunc(t.graceDelay, t.finalizeFailure)
		t.logger.Warn("status.failure_grace_started",
			zap.String("details", u.Details),
			zap.Duration("grace", t.graceDelay))

	default:
		t.logger.Warn("status.unknown_update", zap.String("status", string(u.Status)))
	}

	if terminalStatus != "" {
		t.setTerminalLocked(terminalStatus, terminalErr)
	}
	t.mu.Unlock()

	t.notify(mutated, terminalStatus, terminalErr)
}

// patchItems applies a non-terminal update to every still-incomplete item
// of the step (broadcast semantics within a step).
func (t *Tracker) patchItems(u Update, next model.CheckStatus, includeDest bool) []*model.Item {
	var mutated []*model.Item
	for _, it := range t.step.Items {
		if it.Status == model.ItemStatusComplete {
			continue
		}
		changed := false
		if n := model.MergeTxHashes(it.InternalTxHashes, u.InTxHashes); len(n) != len(it.InternalTxHashes) {
			it.InternalTxHashes = n
			changed = true
		}
		if includeDest {
			if n := model.MergeTxHashes(it.TxHashes, u.TxHashes); len(n) != len(it.TxHashes) {
				it.TxHashes = n
				changed = true
			}
		}
		if it.CheckStatus.CanTransition(next) {
			it.CheckStatus = next
			changed = true
		}
		if changed {
			mutated = append(mutated, it)
		}
	}
	return mutated
}

// finalizeFailure fires when the grace window elapses with no superseding
// update: the failure is now final.
func (t *Tracker) finalizeFailure() {
	t.mu.Lock()
	if t.terminal != "" {
		t.mu.Unlock()
		return
	}
	t.grace = nil

	err := model.ErrTransactionFailed
	if t.failureDetails != "" {
		err = fmt.Errorf("%w: %s", model.ErrTransactionFailed, t.failureDetails)
	}

	var mutated []*model.Item
	for _, it := range t.step.Items {
		if it.Status == model.ItemStatusComplete {
			continue
		}
		if it.CheckStatus.CanTransition(model.CheckStatusFailure) {
			it.CheckStatus = model.CheckStatusFailure
		}
		it.Error = err.Error()
		mutated = append(mutated, it)
	}
	t.setTerminalLocked(model.CheckStatusFailure, err)
	t.mu.Unlock()

	t.notify(mutated, model.CheckStatusFailure, err)
}

func (t *Tracker) setTerminalLocked(status model.CheckStatus, err error) {
	t.terminal = status
	t.terminalErr = err
	close(t.done)
}

func (t *Tracker) notify(mutated []*model.Item, terminal model.CheckStatus, terminalErr error) {
	if t.onMutate != nil {
		for _, it := range mutated {
			t.onMutate(it)
		}
	}
	if terminal != "" && t.onTerminal != nil {
		t.onTerminal(terminal, terminalErr)
	}
}
