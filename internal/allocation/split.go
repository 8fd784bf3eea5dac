package allocation

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var ErrOverflow = errors.New("amount overflows uint256")

// Split divides amount across allocs the way the contract does: each slot gets
// amount*share/100 with uint256 truncation, and the rounding dust goes to the
// first slot.
func Split(amount *big.Int, allocs []Allocation) ([]*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("split: negative amount")
	}
	total, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}

	hundred := uint256.NewInt(FullShare)
	parts := make([]*uint256.Int, len(allocs))
	spent := new(uint256.Int)
	var shareSum uint64
	for i, a := range allocs {
		if a.Share > FullShare-shareSum {
			return nil, ErrSharesExceed
		}
		shareSum += a.Share
		p, of := new(uint256.Int).MulOverflow(total, uint256.NewInt(a.Share))
		if of {
			return nil, ErrOverflow
		}
		p.Div(p, hundred)
		parts[i] = p
		spent.Add(spent, p)
	}
	if shareSum == FullShare && len(parts) > 0 {
		dust := new(uint256.Int).Sub(total, spent)
		parts[0].Add(parts[0], dust)
	}

	out := make([]*big.Int, len(parts))
	for i, p := range parts {
		out[i] = p.ToBig()
	}
	return out, nil
}
