// Package chaintest provides an in-memory chain.Facade for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/stakeflow/internal/chain"
)

// Fake records every call in order. Zero values mean: balance and allowance 0,
// receipts confirmed in block 1 at BlockTime.
type Fake struct {
	mu sync.Mutex

	From      common.Address
	Balance   *big.Int
	Allowance *big.Int
	BlockTime time.Time

	// Slots holds the position storage; ids missing from the map read as empty.
	Slots map[uint64]chain.PositionSlot
	// RevertAbove makes reads of ids above it revert (0 disables).
	RevertAbove uint64

	BalanceErr     error
	AllowanceErr   error
	ApproveErr     error
	ActionErr      error
	ReadErr        error
	ApprovalStatus chain.TxStatus
	ActionStatus   chain.TxStatus

	// ApprovalGate keeps the approval receipt pending until it is closed.
	ApprovalGate chan struct{}
	// OnAction runs for every submitted action with the fake's lock held;
	// it may change the fields directly, e.g. to create the position.
	OnAction func(f *Fake, method string, args []any)

	Calls      []string
	Reads      []uint64
	Approved   *big.Int
	ActionArgs []any

	nonce    int64
	approval common.Hash
	status   map[common.Hash]chain.TxStatus
}

var _ chain.Facade = (*Fake)(nil)

func New(from common.Address) *Fake {
	return &Fake{
		From:      from,
		Balance:   new(big.Int),
		Allowance: new(big.Int),
		BlockTime: time.Unix(1_700_000_000, 0).UTC(),
		Slots:     map[uint64]chain.PositionSlot{},
		status:    map[common.Hash]chain.TxStatus{},
	}
}

// CallLog returns a copy of the call log.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// ReadCount returns the number of position slot reads.
func (f *Fake) ReadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Reads)
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	f.mu.Unlock()
}

func (f *Fake) nextHash(st chain.TxStatus) common.Hash {
	f.nonce++
	h := common.BigToHash(big.NewInt(f.nonce))
	if st == "" {
		st = chain.TxConfirmed
	}
	f.status[h] = st
	return h
}

func (f *Fake) Sender() common.Address { return f.From }

func (f *Fake) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	f.record("allowance")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AllowanceErr != nil {
		return nil, f.AllowanceErr
	}
	return new(big.Int).Set(f.Allowance), nil
}

func (f *Fake) ReadBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	f.record("balance")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	return new(big.Int).Set(f.Balance), nil
}

func (f *Fake) ReadPositionSlot(ctx context.Context, contract, owner common.Address, id uint64) (chain.PositionSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads = append(f.Reads, id)
	if f.ReadErr != nil {
		return chain.PositionSlot{}, f.ReadErr
	}
	if f.RevertAbove > 0 && id > f.RevertAbove {
		return chain.PositionSlot{}, &chain.ProviderError{Op: chain.MethodPositions, Err: fmt.Errorf("positions: %w", chain.ErrReverted)}
	}
	return f.Slots[id], nil
}

func (f *Fake) SubmitApproval(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	f.record("approve")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ApproveErr != nil {
		return common.Hash{}, f.ApproveErr
	}
	f.Approved = new(big.Int).Set(amount)
	f.approval = f.nextHash(f.ApprovalStatus)
	return f.approval, nil
}

func (f *Fake) SubmitAction(ctx context.Context, contract common.Address, method string, args ...any) (common.Hash, error) {
	f.record("action:" + method)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ActionErr != nil {
		return common.Hash{}, f.ActionErr
	}
	f.ActionArgs = args
	if f.OnAction != nil {
		f.OnAction(f, method, args)
	}
	return f.nextHash(f.ActionStatus), nil
}

func (f *Fake) GetReceipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[hash]
	if !ok {
		return nil, chain.ErrPending
	}
	if hash == f.approval && f.ApprovalGate != nil {
		select {
		case <-f.ApprovalGate:
		default:
			return nil, chain.ErrPending
		}
	}
	if hash == f.approval && st == chain.TxConfirmed && f.Approved != nil {
		f.Allowance = new(big.Int).Set(f.Approved)
	}
	return &chain.Receipt{Status: st, BlockNumber: 1}, nil
}

func (f *Fake) GetBlock(ctx context.Context, number uint64) (chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return chain.Block{Number: number, Timestamp: f.BlockTime}, nil
}
