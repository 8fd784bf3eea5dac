// Package invest is the user-facing flow: resolve the plan, run the
// approve-then-act cycle and reconcile the created position.
package invest

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ligun0805/stakeflow/internal/allocation"
	"github.com/ligun0805/stakeflow/internal/catalog"
	"github.com/ligun0805/stakeflow/internal/chain"
	"github.com/ligun0805/stakeflow/internal/orchestrator"
	"github.com/ligun0805/stakeflow/internal/reconcile"
)

// Requester runs one approval-gated action.
type Requester interface {
	Request(ctx context.Context, a orchestrator.Action) (*orchestrator.Outcome, error)
}

// Contracts the service talks to. Node defaults to Vault.
type Contracts struct {
	Token common.Address
	Vault common.Address
	Node  common.Address
}

// Outcome of a finished deposit. Degraded means the transaction confirmed but
// the off-chain record is missing or incomplete; Warning says why.
type Outcome struct {
	Kind     orchestrator.Kind
	Approval *chain.TxRecord
	Tx       chain.TxRecord

	Allocations []allocation.Allocation
	Parts       []*big.Int

	PositionID uint64
	Found      bool
	Record     *reconcile.PositionRecord

	Degraded bool
	Warning  string
}

type Service struct {
	orch      Requester
	reconcile *reconcile.Reconciler
	plans     catalog.Source
	sender    common.Address
	c         Contracts
	log       zerolog.Logger
}

func New(orch Requester, rec *reconcile.Reconciler, plans catalog.Source, sender common.Address, c Contracts, log zerolog.Logger) *Service {
	if c.Node == (common.Address{}) {
		c.Node = c.Vault
	}
	return &Service{
		orch:      orch,
		reconcile: rec,
		plans:     plans,
		sender:    sender,
		c:         c,
		log:       log.With().Str("component", "invest").Logger(),
	}
}

// Stake locks amount in the vault for lockDuration seconds.
func (s *Service) Stake(ctx context.Context, amount *big.Int, lockDuration uint64) (*Outcome, error) {
	a := orchestrator.Action{
		Kind:         orchestrator.KindStake,
		Token:        s.c.Token,
		Contract:     s.c.Vault,
		Amount:       amount,
		LockDuration: lockDuration,
	}
	lock := lockDuration
	return s.run(ctx, a, 0, &lock, nil)
}

// BuyNode buys a position in node nodeID.
func (s *Service) BuyNode(ctx context.Context, nodeID uint64, amount *big.Int) (*Outcome, error) {
	a := orchestrator.Action{
		Kind:     orchestrator.KindBuyPosition,
		Token:    s.c.Token,
		Contract: s.c.Node,
		Amount:   amount,
		NodeID:   nodeID,
	}
	return s.run(ctx, a, nodeID, nil, nil)
}

// SplitInvest deposits amount into plan planID, split across the plan's wallets.
func (s *Service) SplitInvest(ctx context.Context, planID uint64, amount *big.Int) (*Outcome, error) {
	allocs, parts, err := s.Preview(ctx, planID, amount)
	if err != nil {
		return nil, err
	}
	targets := make([]common.Address, len(allocs))
	shares := make([]uint64, len(allocs))
	for i, al := range allocs {
		targets[i] = al.Address
		shares[i] = al.Share
	}
	a := orchestrator.Action{
		Kind:     orchestrator.KindSplitInvest,
		Token:    s.c.Token,
		Contract: s.c.Vault,
		Amount:   amount,
		Targets:  targets,
		Shares:   shares,
		PlanID:   planID,
	}
	return s.run(ctx, a, planID, nil, func(o *Outcome) {
		o.Allocations = allocs
		o.Parts = parts
	})
}

// Preview resolves a plan's destinations and per-wallet amounts without sending anything.
func (s *Service) Preview(ctx context.Context, planID uint64, amount *big.Int) ([]allocation.Allocation, []*big.Int, error) {
	plan, err := s.plans.Plan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if err := plan.CheckAmount(amount); err != nil {
		return nil, nil, fmt.Errorf("plan %d: %w", planID, err)
	}
	allocs, err := allocation.Resolve(plan, s.sender)
	if err != nil {
		return nil, nil, fmt.Errorf("plan %d: %w", planID, err)
	}
	parts, err := allocation.Split(amount, allocs)
	if err != nil {
		return nil, nil, fmt.Errorf("plan %d: %w", planID, err)
	}
	return allocs, parts, nil
}

func (s *Service) run(ctx context.Context, a orchestrator.Action, planOrNode uint64, lock *uint64, decorate func(*Outcome)) (*Outcome, error) {
	res, err := s.orch.Request(ctx, a)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Kind: a.Kind, Approval: res.Approval, Tx: res.Result}
	if decorate != nil {
		decorate(out)
	}
	if s.reconcile == nil {
		return out, nil
	}

	rep := s.reconcile.Reconcile(ctx, reconcile.Request{
		Owner:        s.sender,
		Contract:     a.Contract,
		Token:        a.Token,
		Principal:    a.Amount,
		Kind:         a.Kind.String(),
		PlanOrNodeID: planOrNode,
		LockDuration: lock,
		Tx:           res.Result,
	})
	out.Found = rep.Found
	out.Record = rep.Record
	if rep.Record != nil {
		out.PositionID = rep.Record.PositionID
	}
	if rep.Degraded() {
		out.Degraded = true
		out.Warning = rep.Warning
		s.log.Warn().Str("tx", res.Result.Hash.Hex()).Str("warning", rep.Warning).Msg("degraded success")
	}
	return out, nil
}
