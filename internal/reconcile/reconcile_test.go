package reconcile

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/stakeflow/internal/chain"
	"github.com/ligun0805/stakeflow/internal/locator"
)

type mockFinder struct{ mock.Mock }

func (m *mockFinder) Find(ctx context.Context, q locator.Query) (locator.Result, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(locator.Result), args.Error(1)
}

type mockSink struct{ mock.Mock }

func (m *mockSink) Write(ctx context.Context, rec PositionRecord) error {
	return m.Called(ctx, rec).Error(0)
}

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	token = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vault = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	when  = time.Unix(1_700_000_000, 0).UTC()
)

func stakeRequest() Request {
	lock := uint64(86400)
	return Request{
		Owner: owner, Contract: vault, Token: token,
		Principal: big.NewInt(1000), Kind: "stake", LockDuration: &lock,
		Tx: chain.TxRecord{Hash: common.HexToHash("0xabc"), Status: chain.TxConfirmed, BlockNumber: 9, BlockTime: when},
	}
}

func TestReconcile_WritesRecord(t *testing.T) {
	finder := new(mockFinder)
	sink := new(mockSink)
	req := stakeRequest()

	finder.On("Find", mock.Anything, mock.MatchedBy(func(q locator.Query) bool {
		return q.Owner == owner && q.Token == token && q.Principal.Int64() == 1000 && q.ReferenceTime.Equal(when)
	})).Return(locator.Result{
		ID: 37, Found: true, Reads: 12,
		Slot: chain.PositionSlot{Token: token, Principal: big.NewInt(1000), StartTime: when.Add(-3 * time.Second)},
	}, nil)
	sink.On("Write", mock.Anything, mock.AnythingOfType("reconcile.PositionRecord")).Return(nil)

	rep := New(finder, sink, zerolog.Nop(), nil).Reconcile(context.Background(), req)
	assert.False(t, rep.Degraded())
	require.NotNil(t, rep.Record)

	rec := sink.Calls[0].Arguments.Get(1).(PositionRecord)
	assert.Equal(t, uint64(37), rec.PositionID)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, req.Tx.Hash, rec.TxHash)
	assert.Equal(t, when.Add(-3*time.Second), rec.StartTime)
	require.NotNil(t, rec.UnlockTime)
	assert.Equal(t, rec.StartTime.Add(24*time.Hour), *rec.UnlockTime)
	finder.AssertExpectations(t)
	sink.AssertExpectations(t)
}

func TestReconcile_MissIsDegraded(t *testing.T) {
	finder := new(mockFinder)
	sink := new(mockSink)
	finder.On("Find", mock.Anything, mock.Anything).Return(locator.Result{Reads: 64}, nil)

	rep := New(finder, sink, zerolog.Nop(), nil).Reconcile(context.Background(), stakeRequest())
	assert.True(t, rep.Degraded())
	assert.False(t, rep.Found)
	assert.Equal(t, 64, rep.Reads)
	assert.Contains(t, rep.Warning, "no matching position")
	sink.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
}

func TestReconcile_SearchErrorIsDegraded(t *testing.T) {
	finder := new(mockFinder)
	finder.On("Find", mock.Anything, mock.Anything).Return(locator.Result{Reads: 3}, errors.New("connection reset"))

	rep := New(finder, nil, zerolog.Nop(), nil).Reconcile(context.Background(), stakeRequest())
	assert.True(t, rep.Degraded())
	assert.Contains(t, rep.Warning, "connection reset")
}

func TestReconcile_SinkErrorIsWarning(t *testing.T) {
	finder := new(mockFinder)
	sink := new(mockSink)
	finder.On("Find", mock.Anything, mock.Anything).Return(locator.Result{
		ID: 2, Found: true, Slot: chain.PositionSlot{StartTime: when, UnlockTime: when.Add(time.Hour)},
	}, nil)
	sink.On("Write", mock.Anything, mock.Anything).Return(errors.New("database is locked"))

	rep := New(finder, sink, zerolog.Nop(), nil).Reconcile(context.Background(), stakeRequest())
	assert.True(t, rep.Found)
	assert.True(t, rep.Degraded())
	assert.Contains(t, rep.Warning, "database is locked")
	require.NotNil(t, rep.Record.UnlockTime)
	assert.Equal(t, when.Add(time.Hour), *rep.Record.UnlockTime)
}

func TestBuildRecord_NoLock(t *testing.T) {
	req := stakeRequest()
	req.LockDuration = nil
	req.Kind = "buy_position"
	req.PlanOrNodeID = 4

	rec := buildRecord(req, locator.Result{ID: 1, Found: true})
	assert.Nil(t, rec.UnlockTime)
	assert.Equal(t, when, rec.StartTime)
	assert.Equal(t, uint64(4), rec.PlanOrNodeID)
}
