// Package locator recovers the id a vault assigned to a freshly created
// position by searching the owner's position storage.
package locator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ligun0805/stakeflow/internal/chain"
	"github.com/ligun0805/stakeflow/internal/metrics"
)

const (
	DefaultTolerance    = 300 * time.Second
	DefaultMaxPositions = 128
	DefaultSettleDelay  = 2 * time.Second

	maxPositionsLimit = 1 << 20
)

var ErrInvalidQuery = errors.New("invalid position query")

type Config struct {
	// Tolerance is the open window around the reference time a match must start in.
	Tolerance time.Duration
	// MaxPositions caps the ids searched per owner.
	MaxPositions uint64
	// SettleDelay is waited once before the first read so the node serving
	// reads has seen the confirming block. Negative disables it.
	SettleDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.MaxPositions == 0 {
		c.MaxPositions = DefaultMaxPositions
	}
	if c.MaxPositions > maxPositionsLimit {
		c.MaxPositions = maxPositionsLimit
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	return c
}

// Query describes the position a confirmed transaction created.
type Query struct {
	Owner         common.Address
	Contract      common.Address
	Token         common.Address
	Principal     *big.Int
	ReferenceTime time.Time // block time of the confirming transaction
}

// Result of a search. Slot is the matched storage entry when Found.
type Result struct {
	ID    uint64
	Found bool
	Reads int
	Bound uint64
	Slot  chain.PositionSlot
}

type Locator struct {
	chain   chain.Facade
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func New(f chain.Facade, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Locator {
	return &Locator{
		chain:   f,
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "locator").Logger(),
		metrics: m,
	}
}

// MaxReads is the worst-case number of storage reads for one search.
func (l *Locator) MaxReads() int {
	probes := 1
	for id := uint64(1); id < l.cfg.MaxPositions; id *= 2 {
		probes++
	}
	return probes + int(l.cfg.MaxPositions)
}

// search holds the memoized reads of one query.
type search struct {
	l    *Locator
	q    Query
	seen map[uint64]chain.PositionSlot
}

// read returns the slot at id, reading it at most once. A reverted read is an
// empty slot: vaults revert on ids past the owner's last position.
func (s *search) read(ctx context.Context, id uint64) (chain.PositionSlot, error) {
	if slot, ok := s.seen[id]; ok {
		return slot, nil
	}
	slot, err := s.l.chain.ReadPositionSlot(ctx, s.q.Contract, s.q.Owner, id)
	if err != nil {
		if !chain.IsRevert(err) {
			return chain.PositionSlot{}, err
		}
		slot = chain.PositionSlot{}
	}
	s.seen[id] = slot
	return slot, nil
}

func (s *search) matches(slot chain.PositionSlot) bool {
	if slot.Empty() || slot.Token != s.q.Token || slot.Principal.Cmp(s.q.Principal) != 0 {
		return false
	}
	d := slot.StartTime.Sub(s.q.ReferenceTime)
	if d < 0 {
		d = -d
	}
	return d < s.l.cfg.Tolerance
}

// upperBound probes ids 1, 2, 4, ... and returns the first empty one, or the
// cap when every probe inside it is occupied.
func (s *search) upperBound(ctx context.Context) (uint64, error) {
	limit := s.l.cfg.MaxPositions
	for id := uint64(1); id <= limit; id *= 2 {
		slot, err := s.read(ctx, id)
		if err != nil {
			return 0, err
		}
		if slot.Empty() {
			return id, nil
		}
	}
	return limit, nil
}

// Find runs the bounded two-phase search. Nothing matching is not an error:
// Result.Found is false and the caller decides how to report the miss.
func (l *Locator) Find(ctx context.Context, q Query) (Result, error) {
	if q.Principal == nil || q.Principal.Sign() <= 0 {
		return Result{}, fmt.Errorf("%w: principal must be > 0", ErrInvalidQuery)
	}
	if q.Owner == (common.Address{}) || q.Contract == (common.Address{}) {
		return Result{}, fmt.Errorf("%w: owner and contract required", ErrInvalidQuery)
	}

	if d := l.cfg.SettleDelay; d > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(d):
		}
	}

	s := &search{l: l, q: q, seen: make(map[uint64]chain.PositionSlot)}
	lg := l.log.With().Str("owner", q.Owner.Hex()).Str("principal", q.Principal.String()).Logger()

	bound, err := s.upperBound(ctx)
	if err != nil {
		l.metrics.Search("error", len(s.seen))
		return Result{Reads: len(s.seen)}, fmt.Errorf("locate position: %w", err)
	}
	lg.Debug().Uint64("bound", bound).Int("reads", len(s.seen)).Msg("upper bound")

	// newest first: a fresh position sits near the top
	for id := bound; id >= 1; id-- {
		slot, err := s.read(ctx, id)
		if err != nil {
			l.metrics.Search("error", len(s.seen))
			return Result{Reads: len(s.seen), Bound: bound}, fmt.Errorf("locate position: %w", err)
		}
		if s.matches(slot) {
			res := Result{ID: id, Found: true, Reads: len(s.seen), Bound: bound, Slot: slot}
			lg.Info().Uint64("id", id).Int("reads", res.Reads).Msg("position found")
			l.metrics.Search("found", res.Reads)
			return res, nil
		}
	}

	lg.Warn().Uint64("bound", bound).Int("reads", len(s.seen)).Msg("no matching position")
	l.metrics.Search("miss", len(s.seen))
	return Result{Reads: len(s.seen), Bound: bound}, nil
}
