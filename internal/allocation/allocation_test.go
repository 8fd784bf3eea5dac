package allocation

import (
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	w1 = "0x1111111111111111111111111111111111111111"
	w2 = "0x2222222222222222222222222222222222222222"
	w3 = "0x3333333333333333333333333333333333333333"
)

var caller = common.HexToAddress("0x9999999999999999999999999999999999999999")

func alloc(addr string, share uint64) Allocation {
	return Allocation{Address: common.HexToAddress(addr), Share: share}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		plan     Plan
		expected []Allocation
	}{
		{
			name:     "only wallet 1 overrides stored percent",
			plan:     Plan{Slots: [3]Slot{{Address: w1, Percent: 40}}},
			expected: []Allocation{alloc(w1, 100), alloc(w1, 0), alloc(w1, 0)},
		},
		{
			name:     "two wallets, third placeholder",
			plan:     Plan{Slots: [3]Slot{{Address: w1, Percent: 60}, {Address: w2, Percent: 40}}},
			expected: []Allocation{alloc(w1, 60), alloc(w2, 40), alloc(w1, 0)},
		},
		{
			name: "three wallets",
			plan: Plan{Slots: [3]Slot{
				{Address: w1, Percent: 50}, {Address: w2, Percent: 30}, {Address: w3, Percent: 20},
			}},
			expected: []Allocation{alloc(w1, 50), alloc(w2, 30), alloc(w3, 20)},
		},
		{
			name: "single flag ignores configured split",
			plan: Plan{Single: true, Slots: [3]Slot{
				{Address: w1, Percent: 10}, {Address: w2, Percent: 90},
			}},
			expected: []Allocation{alloc(w1, 100), alloc(w1, 0), alloc(w1, 0)},
		},
		{
			name:     "all zero falls back to wallet 1",
			plan:     Plan{Slots: [3]Slot{{Address: w1}, {Address: w2}, {Address: w3}}},
			expected: []Allocation{alloc(w1, 100), alloc(w2, 0), alloc(w3, 0)},
		},
		{
			name:     "caller flag on wallet 1",
			plan:     Plan{Slots: [3]Slot{{UseCaller: true, Percent: 70}, {Address: w2, Percent: 30}}},
			expected: []Allocation{{Address: caller, Share: 70}, alloc(w2, 30), {Address: caller}},
		},
		{
			name:     "wallet 3 without wallet 2",
			plan:     Plan{Slots: [3]Slot{{Address: w1, Percent: 80}, {}, {Address: w3, Percent: 20}}},
			expected: []Allocation{alloc(w1, 80), alloc(w1, 0), alloc(w3, 20)},
		},
		{
			name:     "under-allocated split is allowed",
			plan:     Plan{Slots: [3]Slot{{Address: w1, Percent: 30}, {Address: w2, Percent: 30}}},
			expected: []Allocation{alloc(w1, 30), alloc(w2, 30), alloc(w1, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.plan, caller)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)

			var sum uint64
			for _, a := range got {
				sum += a.Share
			}
			assert.LessOrEqual(t, sum, uint64(FullShare))
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Run("missing primary", func(t *testing.T) {
		_, err := Resolve(Plan{Slots: [3]Slot{{}, {Address: w2, Percent: 100}}}, caller)
		assert.ErrorIs(t, err, ErrNoPrimaryWallet)
	})

	t.Run("shares over 100 names the slot", func(t *testing.T) {
		_, err := Resolve(Plan{Slots: [3]Slot{
			{Address: w1, Percent: 60}, {Address: w2, Percent: 30}, {Address: w3, Percent: 20},
		}}, caller)
		require.ErrorIs(t, err, ErrSharesExceed)
		var se *SlotError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 3, se.Slot)
	})

	t.Run("share that wraps uint64 is rejected", func(t *testing.T) {
		out, err := Resolve(Plan{Slots: [3]Slot{
			{Address: w1, Percent: 1}, {Address: w2, Percent: math.MaxUint64},
		}}, caller)
		require.ErrorIs(t, err, ErrSharesExceed)
		assert.Nil(t, out)
		var se *SlotError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 2, se.Slot)
	})

	t.Run("malformed address names the slot", func(t *testing.T) {
		_, err := Resolve(Plan{Slots: [3]Slot{{Address: w1, Percent: 50}, {Address: "0x12", Percent: 50}}}, caller)
		require.ErrorIs(t, err, ErrInvalidAddress)
		var se *SlotError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 2, se.Slot)
	})

	t.Run("zero address rejected", func(t *testing.T) {
		_, err := Resolve(Plan{Slots: [3]Slot{{Address: "0x0000000000000000000000000000000000000000"}}}, caller)
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})
}

func TestResolve_Deterministic(t *testing.T) {
	plan := Plan{Slots: [3]Slot{{Address: w1, Percent: 60}, {UseCaller: true, Percent: 40}}}
	a, err := Resolve(plan, caller)
	require.NoError(t, err)
	b, err := Resolve(plan, caller)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAddressesAndShares(t *testing.T) {
	allocs := []Allocation{alloc(w1, 60), alloc(w2, 40), alloc(w1, 0)}

	addrs := Addresses(allocs)
	assert.Equal(t, common.HexToAddress(w2), addrs[1])

	shares := Shares(allocs)
	assert.Equal(t, int64(60), shares[0].Int64())
	assert.Equal(t, int64(0), shares[2].Int64())
}

func TestPlan_CheckAmount(t *testing.T) {
	p := Plan{MinAmount: big.NewInt(100), MaxAmount: big.NewInt(1000)}

	assert.NoError(t, p.CheckAmount(big.NewInt(100)))
	assert.NoError(t, p.CheckAmount(big.NewInt(1000)))
	assert.ErrorIs(t, p.CheckAmount(big.NewInt(99)), ErrAmountOutOfRange)
	assert.ErrorIs(t, p.CheckAmount(big.NewInt(1001)), ErrAmountOutOfRange)
	assert.ErrorIs(t, p.CheckAmount(big.NewInt(0)), ErrAmountOutOfRange)
	assert.NoError(t, Plan{}.CheckAmount(big.NewInt(1)))
}

func TestSplit(t *testing.T) {
	allocs := []Allocation{alloc(w1, 33), alloc(w2, 33), alloc(w3, 34)}

	parts, err := Split(big.NewInt(1000), allocs)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, "330", parts[0].String())
	assert.Equal(t, "330", parts[1].String())
	assert.Equal(t, "340", parts[2].String())

	parts, err = Split(big.NewInt(101), allocs)
	require.NoError(t, err)
	// 33+33+34 = 100 of 101, dust to wallet 1
	assert.Equal(t, int64(34), parts[0].Int64())
	assert.Equal(t, int64(33), parts[1].Int64())
	assert.Equal(t, int64(34), parts[2].Int64())

	sum := new(big.Int)
	for _, p := range parts {
		sum.Add(sum, p)
	}
	assert.Equal(t, int64(101), sum.Int64())
}

func TestSplit_Overflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err := Split(huge, []Allocation{alloc(w1, 100)})
	assert.ErrorIs(t, err, ErrOverflow)

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	_, err = Split(max, []Allocation{alloc(w1, 100)})
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSplit_SharesExceed(t *testing.T) {
	_, err := Split(big.NewInt(1000), []Allocation{alloc(w1, 60), alloc(w2, 41)})
	assert.ErrorIs(t, err, ErrSharesExceed)

	parts, err := Split(big.NewInt(1000), []Allocation{alloc(w1, 1), alloc(w2, math.MaxUint64)})
	assert.ErrorIs(t, err, ErrSharesExceed)
	assert.Nil(t, parts)
}
