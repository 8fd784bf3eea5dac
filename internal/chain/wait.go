package chain

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultPollInterval is used by WaitTx when poll <= 0.
const DefaultPollInterval = 1500 * time.Millisecond

// WaitTx polls for the receipt of hash and then reads its block timestamp.
// A reverted transaction is returned as a TxFailed record with a nil error;
// errors are reserved for the provider and for ctx.
func WaitTx(ctx context.Context, f Facade, hash common.Hash, poll time.Duration, onStatus func(TxRecord)) (TxRecord, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	rec := TxRecord{Hash: hash, Status: TxPending}
	notify := func() {
		if onStatus != nil {
			onStatus(rec)
		}
	}
	notify()

	var rcpt *Receipt
	for {
		r, err := f.GetReceipt(ctx, hash)
		if err == nil {
			rcpt = r
			break
		}
		// a throttled provider is not a verdict on the transaction
		if !errors.Is(err, ErrPending) && !IsRateLimit(err) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-time.After(poll):
		}
	}

	rec.BlockNumber = rcpt.BlockNumber
	if rcpt.Status == TxFailed {
		rec.Status = TxFailed
		notify()
		return rec, nil
	}

	rec.Status = TxConfirming
	notify()
	blk, err := f.GetBlock(ctx, rcpt.BlockNumber)
	if err != nil {
		return rec, err
	}
	rec.BlockTime = blk.Timestamp
	rec.Status = TxConfirmed
	notify()
	return rec, nil
}
