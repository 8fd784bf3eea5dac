package orchestrator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/stakeflow/internal/allocation"
	"github.com/ligun0805/stakeflow/internal/chain"
)

// Kind selects the vault method an Action calls.
type Kind int

const (
	KindStake Kind = iota + 1
	KindBuyPosition
	KindSplitInvest
)

func (k Kind) String() string {
	switch k {
	case KindStake:
		return "stake"
	case KindBuyPosition:
		return "buy_position"
	case KindSplitInvest:
		return "split_invest"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Action is a contract call that spends Amount of Token on behalf of the sender.
// Contract is both the call target and the approval spender.
type Action struct {
	Kind     Kind
	Token    common.Address
	Contract common.Address
	Amount   *big.Int

	// split deposits only: 1 to 3 destinations with whole-percent shares
	Targets []common.Address
	Shares  []uint64

	LockDuration uint64 // seconds, stake
	PlanID       uint64 // split deposit
	NodeID       uint64 // buy position
}

// Validate checks everything that can be checked without the chain.
func (a Action) Validate() error {
	switch a.Kind {
	case KindStake, KindBuyPosition, KindSplitInvest:
	default:
		return &ValidationError{Field: "kind", Reason: a.Kind.String()}
	}
	if a.Amount == nil || a.Amount.Sign() <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be > 0"}
	}
	if a.Amount.BitLen() > 256 {
		return &ValidationError{Field: "amount", Reason: "exceeds uint256"}
	}
	if a.Token == (common.Address{}) {
		return &ValidationError{Field: "token", Reason: "zero address"}
	}
	if a.Contract == (common.Address{}) {
		return &ValidationError{Field: "contract", Reason: "zero address"}
	}
	if a.Kind != KindSplitInvest {
		return nil
	}

	if n := len(a.Targets); n < 1 || n > allocation.Slots {
		return &ValidationError{Field: "targets", Reason: fmt.Sprintf("want 1 to %d, got %d", allocation.Slots, n)}
	}
	if len(a.Shares) != len(a.Targets) {
		return &ValidationError{Field: "shares", Reason: fmt.Sprintf("%d shares for %d targets", len(a.Shares), len(a.Targets))}
	}
	var sum uint64
	for i, t := range a.Targets {
		if t == (common.Address{}) {
			return &ValidationError{Field: fmt.Sprintf("targets[%d]", i), Reason: "zero address"}
		}
		if a.Shares[i] > allocation.FullShare-sum {
			return &ValidationError{Field: "shares", Reason: fmt.Sprintf("shares[%d]=%d takes the sum past %d", i, a.Shares[i], allocation.FullShare)}
		}
		sum += a.Shares[i]
	}
	return nil
}

// call maps the action onto the vault ABI.
func (a Action) call() (string, []any) {
	switch a.Kind {
	case KindStake:
		return chain.MethodStake, []any{a.Token, a.Amount, new(big.Int).SetUint64(a.LockDuration)}
	case KindBuyPosition:
		return chain.MethodBuyNode, []any{new(big.Int).SetUint64(a.NodeID), a.Token, a.Amount}
	default:
		wallets, shares := splitArgs(a)
		return chain.MethodSplitInvest, []any{new(big.Int).SetUint64(a.PlanID), a.Token, a.Amount, wallets, shares}
	}
}

func splitArgs(a Action) ([allocation.Slots]common.Address, [allocation.Slots]*big.Int) {
	allocs := make([]allocation.Allocation, 0, allocation.Slots)
	for i, t := range a.Targets {
		allocs = append(allocs, allocation.Allocation{Address: t, Share: a.Shares[i]})
	}
	// the contract always takes three slots; extras repeat the first destination
	for len(allocs) < allocation.Slots {
		allocs = append(allocs, allocation.Allocation{Address: a.Targets[0]})
	}
	return allocation.Addresses(allocs), allocation.Shares(allocs)
}
