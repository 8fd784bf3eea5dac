// Package allocation turns a plan's wallet configuration into the three
// (address, share) pairs a split deposit is sent with.
package allocation

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Slots is the number of destinations the split contract call always takes.
const Slots = 3

// FullShare is the whole deposit expressed in the plan's unit (whole percent).
const FullShare = 100

var (
	ErrNoPrimaryWallet  = errors.New("plan has no primary wallet")
	ErrSharesExceed     = errors.New("wallet shares exceed 100%")
	ErrInvalidAddress   = errors.New("invalid wallet address")
	ErrAmountOutOfRange = errors.New("amount outside plan limits")
)

// Slot is one configured destination of a plan.
type Slot struct {
	Address   string `json:"address"`
	UseCaller bool   `json:"use_caller"`
	Percent   uint64 `json:"percent"`
}

func (s Slot) present() bool {
	return s.UseCaller || strings.TrimSpace(s.Address) != ""
}

// Plan is the wallet/percentage configuration of an investment plan.
type Plan struct {
	ID        uint64   `json:"id"`
	Name      string   `json:"name"`
	Single    bool     `json:"single"` // category flag: one destination only
	Slots     [3]Slot  `json:"slots"`
	MinAmount *big.Int `json:"min_amount,omitempty"`
	MaxAmount *big.Int `json:"max_amount,omitempty"`
}

// CheckAmount enforces the plan's optional deposit limits.
func (p Plan) CheckAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be > 0", ErrAmountOutOfRange)
	}
	if p.MinAmount != nil && amount.Cmp(p.MinAmount) < 0 {
		return fmt.Errorf("%w: %s < min %s", ErrAmountOutOfRange, amount, p.MinAmount)
	}
	if p.MaxAmount != nil && p.MaxAmount.Sign() > 0 && amount.Cmp(p.MaxAmount) > 0 {
		return fmt.Errorf("%w: %s > max %s", ErrAmountOutOfRange, amount, p.MaxAmount)
	}
	return nil
}

// Allocation is one resolved destination.
type Allocation struct {
	Address common.Address
	Share   uint64
}

// SlotError names the slot that failed validation. Slot is 1-based.
type SlotError struct {
	Slot int
	Err  error
}

func (e *SlotError) Error() string { return fmt.Sprintf("wallet %d: %v", e.Slot, e.Err) }
func (e *SlotError) Unwrap() error { return e.Err }

// Resolve applies the plan's fallback rules in a fixed order and always
// returns Slots entries. The same inputs always give the same output.
func Resolve(plan Plan, caller common.Address) ([]Allocation, error) {
	var (
		present [Slots]bool
		addrs   [Slots]string
	)
	for i, s := range plan.Slots {
		present[i] = s.present()
		if s.UseCaller {
			addrs[i] = caller.Hex()
		} else {
			addrs[i] = strings.TrimSpace(s.Address)
		}
	}

	if !present[0] {
		return nil, ErrNoPrimaryWallet
	}

	var shares [Slots]uint64
	switch {
	case plan.Single || (!present[1] && !present[2]):
		shares = [Slots]uint64{FullShare, 0, 0}
	default:
		for i, s := range plan.Slots {
			if present[i] {
				shares[i] = s.Percent
			}
		}
		if shares == [Slots]uint64{} {
			shares[0] = FullShare
		}
	}

	var (
		out = make([]Allocation, Slots)
		sum uint64
	)
	for i := range plan.Slots {
		if !present[i] {
			continue
		}
		if !common.IsHexAddress(addrs[i]) {
			return nil, &SlotError{Slot: i + 1, Err: fmt.Errorf("%w: %q", ErrInvalidAddress, addrs[i])}
		}
		a := common.HexToAddress(addrs[i])
		if a == (common.Address{}) {
			return nil, &SlotError{Slot: i + 1, Err: fmt.Errorf("%w: zero address", ErrInvalidAddress)}
		}
		if shares[i] > FullShare-sum {
			return nil, &SlotError{Slot: i + 1, Err: ErrSharesExceed}
		}
		sum += shares[i]
		out[i] = Allocation{Address: a, Share: shares[i]}
	}

	// the contract takes three addresses even when only one gets funds
	for i := range out {
		if plan.Single && i > 0 {
			out[i] = Allocation{Address: out[0].Address}
			continue
		}
		if !present[i] {
			out[i] = Allocation{Address: out[0].Address}
		}
	}
	return out, nil
}

// Addresses returns the destinations as the fixed-size array the contract takes.
func Addresses(allocs []Allocation) [Slots]common.Address {
	var out [Slots]common.Address
	for i := 0; i < Slots && i < len(allocs); i++ {
		out[i] = allocs[i].Address
	}
	return out
}

// Shares returns the shares as the fixed-size uint256 array the contract takes.
func Shares(allocs []Allocation) [Slots]*big.Int {
	var out [Slots]*big.Int
	for i := 0; i < Slots; i++ {
		out[i] = new(big.Int)
		if i < len(allocs) {
			out[i].SetUint64(allocs[i].Share)
		}
	}
	return out
}
