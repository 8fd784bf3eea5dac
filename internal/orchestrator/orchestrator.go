// Package orchestrator sequences an ERC-20 approval with the contract call
// that spends it.
//
// An Orchestrator owns a single action slot. Request checks the balance and
// the allowance, submits an approval when needed, waits for it to confirm and
// only then submits the action. While a cycle is running every other Request
// is rejected with ErrActionInProgress.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ligun0805/stakeflow/internal/chain"
	"github.com/ligun0805/stakeflow/internal/metrics"
)

var (
	ErrActionInProgress    = errors.New("action already in progress")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrApprovalFailed      = errors.New("approval transaction failed")
	ErrActionFailed        = errors.New("action transaction failed")
)

// ValidationError is returned before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

// State of the action slot.
type State int

const (
	Idle State = iota
	CheckingAllowance
	AwaitingApproval
	AwaitingAction
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CheckingAllowance:
		return "checking_allowance"
	case AwaitingApproval:
		return "awaiting_approval"
	case AwaitingAction:
		return "awaiting_action"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome of a finished cycle. Approval is nil when the allowance already covered the amount.
type Outcome struct {
	Action   Action
	Approval *chain.TxRecord
	Result   chain.TxRecord
}

type Option func(*Orchestrator)

// WithStateHook registers fn to be called on every state change.
// fn runs with the slot lock held and must not call back into the Orchestrator.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.hook = fn }
}

// WithPollInterval sets the receipt poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.poll = d }
}

// WithMetrics records cycle outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTxHook is called with every status change of the approval and the action.
func WithTxHook(fn func(kind string, rec chain.TxRecord)) Option {
	return func(o *Orchestrator) { o.txHook = fn }
}

type Orchestrator struct {
	chain   chain.Facade
	log     zerolog.Logger
	poll    time.Duration
	metrics *metrics.Metrics
	hook    func(State)
	txHook  func(string, chain.TxRecord)

	mu      sync.Mutex
	state   State
	pending *Action
}

func New(f chain.Facade, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chain: f,
		log:   log.With().Str("component", "orchestrator").Logger(),
		poll:  chain.DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state of the slot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Pending returns a copy of the action waiting for its approval, if any.
func (o *Orchestrator) Pending() (Action, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return Action{}, false
	}
	return *o.pending, true
}

func (o *Orchestrator) setLocked(s State) {
	if o.state == s {
		return
	}
	o.log.Debug().Str("from", o.state.String()).Str("to", s.String()).Msg("state")
	o.state = s
	if o.hook != nil {
		o.hook(s)
	}
}

// acquire takes the slot. An invalid action never leaves Idle.
func (o *Orchestrator) acquire(a Action) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Idle {
		return ErrActionInProgress
	}
	if err := a.Validate(); err != nil {
		return err
	}
	o.setLocked(CheckingAllowance)
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.pending = nil
	o.setLocked(Idle)
	o.mu.Unlock()
}

// Request runs one approve-then-act cycle and blocks until the action's
// receipt is known. Provider errors come back unchanged and leave the
// Orchestrator Idle with the action discarded.
func (o *Orchestrator) Request(ctx context.Context, a Action) (*Outcome, error) {
	if err := o.acquire(a); err != nil {
		if errors.Is(err, ErrActionInProgress) {
			o.metrics.InProgressRejected()
		} else {
			o.metrics.Action(a.Kind.String(), "invalid")
		}
		return nil, err
	}
	defer o.release()

	lg := o.log.With().Str("kind", a.Kind.String()).Str("amount", a.Amount.String()).Logger()
	method, args := a.call()

	out, err := o.run(ctx, lg, a, method, args)
	switch {
	case err == nil:
		o.metrics.Action(a.Kind.String(), "confirmed")
	case errors.Is(err, ErrActionFailed):
		o.metrics.Action(a.Kind.String(), "failed")
	case errors.Is(err, ErrInsufficientBalance):
		o.metrics.Action(a.Kind.String(), "invalid")
	case chain.IsUserRejection(err), errors.Is(err, context.Canceled):
		lg.Info().Err(err).Msg("cancelled")
		o.metrics.Action(a.Kind.String(), "cancelled")
	default:
		o.metrics.Action(a.Kind.String(), "error")
	}
	return out, err
}

func (o *Orchestrator) run(ctx context.Context, lg zerolog.Logger, a Action, method string, args []any) (*Outcome, error) {
	owner := o.chain.Sender()

	bal, err := o.chain.ReadBalance(ctx, a.Token, owner)
	if err != nil {
		return nil, err
	}
	if bal.Cmp(a.Amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, a.Amount)
	}

	allowance, err := o.chain.ReadAllowance(ctx, a.Token, owner, a.Contract)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Action: a}
	if allowance.Cmp(a.Amount) >= 0 {
		lg.Debug().Str("allowance", allowance.String()).Msg("allowance sufficient, skipping approval")
		o.metrics.Approval("skipped")
	} else {
		rec, err := o.approve(ctx, lg, a, allowance)
		if err != nil {
			return nil, err
		}
		out.Approval = &rec
	}

	o.mu.Lock()
	o.pending = nil
	o.setLocked(AwaitingAction)
	o.mu.Unlock()

	hash, err := o.chain.SubmitAction(ctx, a.Contract, method, args...)
	if err != nil {
		return nil, err
	}
	lg.Info().Str("tx", hash.Hex()).Str("method", method).Msg("action submitted")

	rec, err := chain.WaitTx(ctx, o.chain, hash, o.poll, o.notify("action"))
	if err != nil {
		return nil, err
	}
	out.Result = rec
	if rec.Status == chain.TxFailed {
		lg.Warn().Str("tx", hash.Hex()).Msg("action reverted")
		return out, fmt.Errorf("%w: %s", ErrActionFailed, hash.Hex())
	}
	lg.Info().Str("tx", hash.Hex()).Uint64("block", rec.BlockNumber).Msg("action confirmed")
	return out, nil
}

func (o *Orchestrator) approve(ctx context.Context, lg zerolog.Logger, a Action, allowance *big.Int) (chain.TxRecord, error) {
	lg.Info().Str("allowance", allowance.String()).Str("spender", a.Contract.Hex()).Msg("approval required")

	hash, err := o.chain.SubmitApproval(ctx, a.Token, a.Contract, a.Amount)
	if err != nil {
		return chain.TxRecord{}, err
	}

	o.mu.Lock()
	p := a
	o.pending = &p
	o.setLocked(AwaitingApproval)
	o.mu.Unlock()

	rec, err := chain.WaitTx(ctx, o.chain, hash, o.poll, o.notify("approval"))
	if err != nil {
		return rec, err
	}
	if rec.Status == chain.TxFailed {
		o.metrics.Approval("failed")
		lg.Warn().Str("tx", hash.Hex()).Msg("approval reverted, action discarded")
		return rec, fmt.Errorf("%w: %s", ErrApprovalFailed, hash.Hex())
	}
	o.metrics.Approval("confirmed")
	lg.Info().Str("tx", hash.Hex()).Msg("approval confirmed")
	return rec, nil
}

func (o *Orchestrator) notify(kind string) func(chain.TxRecord) {
	if o.txHook == nil {
		return nil
	}
	return func(r chain.TxRecord) { o.txHook(kind, r) }
}
