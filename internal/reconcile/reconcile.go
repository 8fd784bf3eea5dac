// Package reconcile turns a confirmed position-creating transaction into an
// off-chain record.
//
// The on-chain result is final by the time Reconcile runs, so nothing here
// fails the caller: a missed search or a failed write is reported as a warning.
package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ligun0805/stakeflow/internal/chain"
	"github.com/ligun0805/stakeflow/internal/locator"
	"github.com/ligun0805/stakeflow/internal/metrics"
)

const StatusActive = "active"

// PositionRecord is what the record store keeps per position.
type PositionRecord struct {
	Owner        common.Address
	Contract     common.Address
	PositionID   uint64
	Kind         string
	PlanOrNodeID uint64
	Principal    *big.Int
	LockDuration *uint64 // seconds, stake only
	StartTime    time.Time
	UnlockTime   *time.Time
	TxHash       common.Hash
	Status       string
}

// Sink persists position records. Writing the same position twice must be harmless.
type Sink interface {
	Write(ctx context.Context, rec PositionRecord) error
}

// Finder is the part of the locator the reconciler uses.
type Finder interface {
	Find(ctx context.Context, q locator.Query) (locator.Result, error)
}

// Request describes a confirmed action.
type Request struct {
	Owner        common.Address
	Contract     common.Address
	Token        common.Address
	Principal    *big.Int
	Kind         string
	PlanOrNodeID uint64
	LockDuration *uint64
	Tx           chain.TxRecord
}

// Report is the reconciliation result. Warning is empty on full success.
type Report struct {
	Found   bool
	Record  *PositionRecord
	Reads   int
	Warning string
}

func (r Report) Degraded() bool { return r.Warning != "" }

type Reconciler struct {
	finder  Finder
	sink    Sink
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New builds a Reconciler. sink may be nil when no record store is configured.
func New(finder Finder, sink Sink, log zerolog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		finder:  finder,
		sink:    sink,
		log:     log.With().Str("component", "reconcile").Logger(),
		metrics: m,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, req Request) Report {
	lg := r.log.With().Str("tx", req.Tx.Hash.Hex()).Str("kind", req.Kind).Logger()

	res, err := r.finder.Find(ctx, locator.Query{
		Owner:         req.Owner,
		Contract:      req.Contract,
		Token:         req.Token,
		Principal:     req.Principal,
		ReferenceTime: req.Tx.BlockTime,
	})
	if err != nil {
		lg.Warn().Err(err).Msg("position search failed")
		return Report{Reads: res.Reads, Warning: fmt.Sprintf("transaction %s confirmed, but the position could not be looked up: %v", req.Tx.Hash.Hex(), err)}
	}
	if !res.Found {
		return Report{Reads: res.Reads, Warning: fmt.Sprintf("transaction %s confirmed, but no matching position was found; record it manually", req.Tx.Hash.Hex())}
	}

	rec := buildRecord(req, res)
	rep := Report{Found: true, Record: &rec, Reads: res.Reads}
	if r.sink == nil {
		return rep
	}
	if err := r.sink.Write(ctx, rec); err != nil {
		lg.Error().Err(err).Uint64("position", rec.PositionID).Msg("record write failed")
		r.metrics.RecordWrite("error")
		rep.Warning = fmt.Sprintf("position %d confirmed, but saving the record failed: %v", rec.PositionID, err)
		return rep
	}
	r.metrics.RecordWrite("ok")
	lg.Info().Uint64("position", rec.PositionID).Msg("position recorded")
	return rep
}

func buildRecord(req Request, res locator.Result) PositionRecord {
	rec := PositionRecord{
		Owner:        req.Owner,
		Contract:     req.Contract,
		PositionID:   res.ID,
		Kind:         req.Kind,
		PlanOrNodeID: req.PlanOrNodeID,
		Principal:    new(big.Int).Set(req.Principal),
		LockDuration: req.LockDuration,
		StartTime:    res.Slot.StartTime,
		TxHash:       req.Tx.Hash,
		Status:       StatusActive,
	}
	if rec.StartTime.IsZero() {
		rec.StartTime = req.Tx.BlockTime
	}
	switch {
	case !res.Slot.UnlockTime.IsZero():
		t := res.Slot.UnlockTime
		rec.UnlockTime = &t
	case req.LockDuration != nil:
		t := rec.StartTime.Add(time.Duration(*req.LockDuration) * time.Second)
		rec.UnlockTime = &t
	}
	return rec
}
