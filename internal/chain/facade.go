// Package chain wraps a read/write connection to a single EVM network.
//
// It is the only package that talks to the RPC provider. Everything above it
// works with the Facade interface, hashes and plain records.
package chain

import (
	"context"
	"errors"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus is the observable lifecycle of a submitted transaction.
type TxStatus string

const (
	TxPending    TxStatus = "pending"
	TxConfirming TxStatus = "confirming"
	TxConfirmed  TxStatus = "confirmed"
	TxFailed     TxStatus = "failed"
)

// Final reports whether the record can no longer change.
func (s TxStatus) Final() bool { return s == TxConfirmed || s == TxFailed }

// TxRecord is the outcome of a submitted contract call. BlockNumber and
// BlockTime are set once the receipt is known.
type TxRecord struct {
	Hash        common.Hash
	Status      TxStatus
	BlockNumber uint64
	BlockTime   time.Time
}

// Receipt is the subset of a transaction receipt the core reads.
type Receipt struct {
	Status      TxStatus // TxConfirmed or TxFailed
	BlockNumber uint64
}

// Block is the subset of a block header the core reads.
type Block struct {
	Number    uint64
	Timestamp time.Time
}

// PositionSlot is one entry of the per-owner position storage.
type PositionSlot struct {
	Token      common.Address
	Principal  *big.Int
	StartTime  time.Time
	UnlockTime time.Time
	Active     bool
}

// Empty reports whether the slot was never written.
func (p PositionSlot) Empty() bool { return p.Principal == nil || p.Principal.Sign() == 0 }

// Facade is the chain access surface used by the orchestrator and the locator.
type Facade interface {
	Sender() common.Address

	ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	ReadBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	ReadPositionSlot(ctx context.Context, contract, owner common.Address, id uint64) (PositionSlot, error)

	SubmitApproval(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
	SubmitAction(ctx context.Context, contract common.Address, method string, args ...any) (common.Hash, error)

	GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	GetBlock(ctx context.Context, number uint64) (Block, error)
}

var (
	// ErrPending is returned by GetReceipt while the transaction is not mined yet.
	ErrPending = errors.New("transaction pending")
	// ErrReverted marks a read that the contract rejected.
	ErrReverted = errors.New("execution reverted")
)

// ProviderError wraps a failure reported by the wallet or the RPC node.
// Error returns the provider's message unchanged.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

func providerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}

// IsRevert reports whether err came from a reverted call.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrReverted) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// RevertReason trims a provider error down to the revert message when there is one.
func RevertReason(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if i := strings.Index(s, "execution reverted"); i >= 0 {
		return s[i:]
	}
	return s
}

// IsUserRejection reports whether the wallet refused to sign.
// Matches EIP-1193 code 4001 and the usual signer wording.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "user rejected") ||
		strings.Contains(s, "user denied") ||
		strings.Contains(s, "request denied") ||
		rejectCodeRe.MatchString(s)
}

var rejectCodeRe = regexp.MustCompile(`"?code"?\s*[:=]?\s*4001\b`)
