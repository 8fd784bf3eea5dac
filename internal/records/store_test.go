package records

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/stakeflow/internal/reconcile"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	vault = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	start = time.Unix(1_700_000_000, 0).UTC()
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "records.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func position(id uint64) reconcile.PositionRecord {
	lock := uint64(86400)
	unlock := start.Add(24 * time.Hour)
	return reconcile.PositionRecord{
		Owner:        owner,
		Contract:     vault,
		PositionID:   id,
		Kind:         "stake",
		Principal:    new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)),
		LockDuration: &lock,
		StartTime:    start.Add(time.Duration(id) * time.Minute),
		UnlockTime:   &unlock,
		TxHash:       common.HexToHash("0xabc"),
		Status:       reconcile.StatusActive,
	}
}

func TestStore_WriteAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, position(1)))
	require.NoError(t, s.Write(ctx, position(2)))

	noLock := position(3)
	noLock.Kind = "buy_position"
	noLock.LockDuration = nil
	noLock.UnlockTime = nil
	noLock.PlanOrNodeID = 9
	require.NoError(t, s.Write(ctx, noLock))

	got, err := s.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, uint64(3), got[0].PositionID)
	assert.Nil(t, got[0].LockDuration)
	assert.Nil(t, got[0].UnlockTime)
	assert.Equal(t, uint64(9), got[0].PlanOrNodeID)

	assert.Equal(t, uint64(1), got[2].PositionID)
	assert.Equal(t, "1000000000000000000000", got[2].Principal.String())
	require.NotNil(t, got[2].LockDuration)
	assert.Equal(t, uint64(86400), *got[2].LockDuration)
	assert.True(t, got[2].StartTime.Equal(position(1).StartTime))
	assert.NotEmpty(t, got[2].ID)
	assert.Equal(t, owner, got[2].Owner)
}

func TestStore_DuplicateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, position(5)))
	require.NoError(t, s.Write(ctx, position(5)))

	_, err := s.Insert(ctx, position(5))
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.List(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_ListOtherOwner(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Write(context.Background(), position(1)))

	got, err := s.List(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
