package locator

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/stakeflow/internal/chain"
	"github.com/ligun0805/stakeflow/internal/chain/chaintest"
	"github.com/ligun0805/stakeflow/internal/metrics"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	token = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	other = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	vault = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	ref   = time.Unix(1_700_000_000, 0).UTC()
)

// fill writes n positions, each with a distinct principal and an old start time.
func fill(f *chaintest.Fake, n uint64) {
	for id := uint64(1); id <= n; id++ {
		f.Slots[id] = chain.PositionSlot{
			Token:     token,
			Principal: big.NewInt(int64(10_000 + id)),
			StartTime: ref.Add(-time.Duration(n-id+1) * time.Hour),
			Active:    true,
		}
	}
}

func place(f *chaintest.Fake, id uint64, principal int64, start time.Time) {
	f.Slots[id] = chain.PositionSlot{Token: token, Principal: big.NewInt(principal), StartTime: start, Active: true}
}

func newTestLocator(f *chaintest.Fake, cfg Config) *Locator {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = -1
	}
	return New(f, cfg, zerolog.Nop(), nil)
}

func query(principal int64) Query {
	return Query{Owner: owner, Contract: vault, Token: token, Principal: big.NewInt(principal), ReferenceTime: ref}
}

func assertNoRepeatedReads(t *testing.T, f *chaintest.Fake) {
	t.Helper()
	seen := map[uint64]bool{}
	for _, id := range f.Reads {
		assert.False(t, seen[id], "id %d read twice", id)
		seen[id] = true
	}
}

func searchBound(limit uint64) int {
	return 2*int(math.Log2(float64(limit))) + int(limit)
}

func TestFind_RecentPositionAmongFifty(t *testing.T) {
	f := chaintest.New(owner)
	fill(f, 50)
	place(f, 37, 1000, ref.Add(4*time.Second))

	l := newTestLocator(f, Config{})
	res, err := l.Find(context.Background(), query(1000))
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Equal(t, uint64(37), res.ID)
	assert.Equal(t, uint64(64), res.Bound)
	assert.Equal(t, []uint64{1, 2, 4, 8, 16, 32, 64}, f.Reads[:7])
	assert.Equal(t, int64(1000), res.Slot.Principal.Int64())
	assert.Equal(t, len(f.Reads), res.Reads)
	assert.LessOrEqual(t, res.Reads, searchBound(DefaultMaxPositions))
	assertNoRepeatedReads(t, f)
}

func TestFind_NoMatch(t *testing.T) {
	f := chaintest.New(owner)
	fill(f, 50)
	place(f, 37, 1000, ref)

	l := newTestLocator(f, Config{})
	q := query(1000)
	q.Token = other

	res, err := l.Find(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, 64, res.Reads)
	assertNoRepeatedReads(t, f)
}

func TestFind_ToleranceIsStrict(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		found bool
	}{
		{"just inside after", ref.Add(299 * time.Second), true},
		{"just inside before", ref.Add(-299 * time.Second), true},
		{"on the edge", ref.Add(300 * time.Second), false},
		{"outside", ref.Add(-20 * time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := chaintest.New(owner)
			fill(f, 3)
			place(f, 2, 1000, tt.start)

			res, err := newTestLocator(f, Config{}).Find(context.Background(), query(1000))
			require.NoError(t, err)
			assert.Equal(t, tt.found, res.Found)
		})
	}
}

func TestFind_NewestMatchWins(t *testing.T) {
	f := chaintest.New(owner)
	fill(f, 30)
	place(f, 10, 1000, ref.Add(-time.Minute))
	place(f, 20, 1000, ref)

	res, err := newTestLocator(f, Config{}).Find(context.Background(), query(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), res.ID)
}

func TestFind_AmountMustBeExact(t *testing.T) {
	f := chaintest.New(owner)
	fill(f, 5)
	place(f, 4, 1001, ref)

	res, err := newTestLocator(f, Config{}).Find(context.Background(), query(1000))
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestFind_CapBoundsReads(t *testing.T) {
	f := chaintest.New(owner)
	fill(f, 300)
	place(f, 5, 1000, ref)

	l := newTestLocator(f, Config{})
	res, err := l.Find(context.Background(), query(1000))
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, uint64(5), res.ID)
	assert.Equal(t, uint64(DefaultMaxPositions), res.Bound)
	assert.LessOrEqual(t, res.Reads, l.MaxReads())
	assert.LessOrEqual(t, l.MaxReads(), searchBound(DefaultMaxPositions))
	for _, id := range f.Reads {
		assert.LessOrEqual(t, id, uint64(DefaultMaxPositions))
	}
	assertNoRepeatedReads(t, f)
}

func TestFind_PositionOutsideCapIsMissed(t *testing.T) {
	f := chaintest.New(owner)
	fill(f, 40)
	place(f, 40, 1000, ref)

	res, err := newTestLocator(f, Config{MaxPositions: 16}).Find(context.Background(), query(1000))
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, 16, res.Reads)
}

func TestFind_RevertIsEmpty(t *testing.T) {
	f := chaintest.New(owner)
	fill(f, 5)
	place(f, 5, 1000, ref)
	f.RevertAbove = 5

	res, err := newTestLocator(f, Config{}).Find(context.Background(), query(1000))
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, uint64(5), res.ID)
	assert.Equal(t, uint64(8), res.Bound)
}

func TestFind_EmptyStorage(t *testing.T) {
	f := chaintest.New(owner)
	res, err := newTestLocator(f, Config{}).Find(context.Background(), query(1000))
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, 1, res.Reads)
}

func TestFind_ProviderError(t *testing.T) {
	f := chaintest.New(owner)
	f.ReadErr = &chain.ProviderError{Op: "positions", Err: errors.New("connection refused")}

	_, err := newTestLocator(f, Config{}).Find(context.Background(), query(1000))
	require.Error(t, err)
	var pe *chain.ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestFind_InvalidQuery(t *testing.T) {
	l := newTestLocator(chaintest.New(owner), Config{})

	_, err := l.Find(context.Background(), query(0))
	assert.ErrorIs(t, err, ErrInvalidQuery)

	q := query(1)
	q.Contract = common.Address{}
	_, err = l.Find(context.Background(), q)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestFind_SettleDelayHonorsContext(t *testing.T) {
	f := chaintest.New(owner)
	l := New(f, Config{SettleDelay: time.Hour}, zerolog.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Find(ctx, query(1000))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.ReadCount())
}

func TestFind_Metrics(t *testing.T) {
	f := chaintest.New(owner)
	fill(f, 3)
	place(f, 3, 1000, ref)
	m := metrics.New("test")

	l := New(f, Config{SettleDelay: -1}, zerolog.Nop(), m)
	_, err := l.Find(context.Background(), query(1000))
	require.NoError(t, err)
	_, err = l.Find(context.Background(), query(7))
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, m, "found"))
	assert.Equal(t, 1.0, counterValue(t, m, "miss"))
}

func counterValue(t *testing.T, m *metrics.Metrics, result string) float64 {
	t.Helper()
	return testutil.ToFloat64(m.LocatorResults.WithLabelValues(result))
}
