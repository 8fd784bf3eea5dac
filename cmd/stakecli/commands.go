package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ligun0805/stakeflow/internal/allocation"
	"github.com/ligun0805/stakeflow/internal/catalog"
	"github.com/ligun0805/stakeflow/internal/chain"
	"github.com/ligun0805/stakeflow/internal/config"
	"github.com/ligun0805/stakeflow/internal/invest"
	"github.com/ligun0805/stakeflow/internal/locator"
	"github.com/ligun0805/stakeflow/internal/records"
)

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

func cmdStake(ctx context.Context, st config.Settings, log zerolog.Logger, args []string) error {
	fs := newFlags("stake")
	amount := fs.String("amount", "", "amount in tokens")
	lock := fs.Uint64("lock", 0, "lock duration in seconds")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := openApp(ctx, st, log)
	if err != nil {
		return err
	}
	defer a.Close()

	wei, err := toUnits(*amount, a.decimals)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	actx, cancel := a.actionCtx(ctx)
	defer cancel()

	out, err := a.svc.Stake(actx, wei, *lock)
	if err != nil {
		return err
	}
	printOutcome(out, a.decimals)
	return nil
}

func cmdBuy(ctx context.Context, st config.Settings, log zerolog.Logger, args []string) error {
	fs := newFlags("buy")
	node := fs.Uint64("node", 0, "node id")
	amount := fs.String("amount", "", "amount in tokens")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := openApp(ctx, st, log)
	if err != nil {
		return err
	}
	defer a.Close()

	wei, err := toUnits(*amount, a.decimals)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	actx, cancel := a.actionCtx(ctx)
	defer cancel()

	out, err := a.svc.BuyNode(actx, *node, wei)
	if err != nil {
		return err
	}
	printOutcome(out, a.decimals)
	return nil
}

func cmdInvest(ctx context.Context, st config.Settings, log zerolog.Logger, args []string) error {
	fs := newFlags("invest")
	plan := fs.Uint64("plan", 0, "plan id")
	amount := fs.String("amount", "", "amount in tokens")
	dryRun := fs.Bool("dry-run", false, "show the split without sending")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := openApp(ctx, st, log)
	if err != nil {
		return err
	}
	defer a.Close()

	wei, err := toUnits(*amount, a.decimals)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}

	if *dryRun {
		allocs, parts, err := a.svc.Preview(ctx, *plan, wei)
		if err != nil {
			return err
		}
		printSplit(allocs, parts, a.decimals)
		return nil
	}

	actx, cancel := a.actionCtx(ctx)
	defer cancel()
	out, err := a.svc.SplitInvest(actx, *plan, wei)
	if err != nil {
		return err
	}
	printOutcome(out, a.decimals)
	return nil
}

func cmdLocate(ctx context.Context, st config.Settings, log zerolog.Logger, args []string) error {
	fs := newFlags("locate")
	principal := fs.String("principal", "", "position principal in tokens")
	at := fs.Int64("at", 0, "reference unix time (default now)")
	contract := fs.String("contract", "", "position contract (default VAULT_ADDRESS)")
	owner := fs.String("owner", "", "position owner (default the signing address)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := openApp(ctx, st, log)
	if err != nil {
		return err
	}
	defer a.Close()

	wei, err := toUnits(*principal, a.decimals)
	if err != nil {
		return fmt.Errorf("principal: %w", err)
	}
	q := locator.Query{
		Owner:         a.client.Sender(),
		Contract:      a.vault,
		Token:         a.token,
		Principal:     wei,
		ReferenceTime: time.Now(),
	}
	if *at > 0 {
		q.ReferenceTime = time.Unix(*at, 0)
	}
	if *contract != "" {
		if q.Contract, err = parseAddress(*contract); err != nil {
			return fmt.Errorf("contract: %w", err)
		}
	}
	if *owner != "" {
		if q.Owner, err = parseAddress(*owner); err != nil {
			return fmt.Errorf("owner: %w", err)
		}
	}

	res, err := a.locator.Find(ctx, q)
	if err != nil {
		return err
	}
	if !res.Found {
		fmt.Printf("[RESULT] not found (bound %d, %d reads)\n", res.Bound, res.Reads)
		return nil
	}
	fmt.Printf("[RESULT] position #%d | principal %s | start %s | reads %d\n",
		res.ID, formatUnits(res.Slot.Principal, a.decimals), res.Slot.StartTime.Format(time.RFC3339), res.Reads)
	return nil
}

func cmdRecords(ctx context.Context, st config.Settings, log zerolog.Logger, args []string) error {
	fs := newFlags("records")
	ownerFlag := fs.String("owner", "", "owner address (default the signing address)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var owner common.Address
	if *ownerFlag != "" {
		var err error
		if owner, err = parseAddress(*ownerFlag); err != nil {
			return fmt.Errorf("owner: %w", err)
		}
	} else {
		pk, err := privateKey(st)
		if err != nil {
			return err
		}
		if owner, err = chain.AddressFromHex(pk); err != nil {
			return fmt.Errorf("private key: %w", err)
		}
	}

	store, err := records.Open(st.RecordsDB, log)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(ctx, owner)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no positions recorded for", owner.Hex())
		return nil
	}
	for _, r := range list {
		unlock := "-"
		if r.UnlockTime != nil {
			unlock = r.UnlockTime.Format(time.RFC3339)
		}
		fmt.Printf("#%-5d %-13s ref=%-4d principal=%s start=%s unlock=%s tx=%s\n",
			r.PositionID, r.Kind, r.PlanOrNodeID, r.Principal.String(),
			r.StartTime.Format(time.RFC3339), unlock, r.TxHash.Hex())
	}
	return nil
}

func printTxStatus(kind string, r chain.TxRecord) {
	fmt.Printf("  [%s] %s %s\n", kind, r.Status, r.Hash.Hex())
}

func printSplit(allocs []allocation.Allocation, parts []*big.Int, decimals int) {
	for i, al := range allocs {
		fmt.Printf("  wallet %d: %s  %3d%%  %s\n", i+1, al.Address.Hex(), al.Share, formatUnits(parts[i], decimals))
	}
}

func printOutcome(out *invest.Outcome, decimals int) {
	if out.Approval != nil {
		fmt.Println("[APPROVAL]", out.Approval.Hash.Hex(), out.Approval.Status)
	}
	fmt.Printf("[RESULT] %s %s | block %d\n", out.Kind, out.Tx.Status, out.Tx.BlockNumber)
	if len(out.Allocations) > 0 {
		printSplit(out.Allocations, out.Parts, decimals)
	}
	if out.Found {
		fmt.Printf("[POSITION] #%d\n", out.PositionID)
	}
	if out.Degraded {
		fmt.Println("[WARN]", strings.TrimSpace(out.Warning))
	}
}

// cmdPlans lists the split plans from the plans file. It needs no RPC.
func cmdPlans(st config.Settings, args []string) error {
	fs := newFlags("plans")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	plans, err := catalog.NewFile(st.PlansFile).Plans()
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		fmt.Println("no plans in", st.PlansFile)
		return nil
	}
	for _, p := range plans {
		limits := "any amount"
		if p.MinAmount != nil || p.MaxAmount != nil {
			limits = fmt.Sprintf("min=%s max=%s", orDash(p.MinAmount), orDash(p.MaxAmount))
		}
		fmt.Printf("#%-4d %-20s single=%-5t %s\n", p.ID, p.Name, p.Single, limits)
		for i, sl := range p.Slots {
			switch {
			case sl.UseCaller:
				fmt.Printf("      wallet %d: caller %d%%\n", i+1, sl.Percent)
			case sl.Address != "":
				fmt.Printf("      wallet %d: %s %d%%\n", i+1, sl.Address, sl.Percent)
			}
		}
	}
	return nil
}

func orDash(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return v.String()
}
