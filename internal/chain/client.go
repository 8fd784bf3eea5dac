package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Backend is what Client needs from the node. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config for Dial.
type Config struct {
	RPCURL        string
	ChainID       *big.Int // nil: ask the node
	PrivateKeyHex string
	RPCTimeout    time.Duration
}

// Client is the go-ethereum backed Facade.
type Client struct {
	backend Backend
	opts    *bind.TransactOpts
	timeout time.Duration
	log     zerolog.Logger
}

var _ Facade = (*Client)(nil)

// Dial connects to the RPC endpoint and binds the signing key.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, strings.TrimSpace(cfg.RPCURL))
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID := cfg.ChainID
	if chainID == nil {
		chainID, err = ec.ChainID(ctx)
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}
	opts, err := NewTransactorFromHex(cfg.PrivateKeyHex, chainID)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("signer: %w", err)
	}
	return New(ec, opts, cfg.RPCTimeout, log), nil
}

// New wraps an existing backend. timeout bounds every single RPC call; zero disables it.
func New(backend Backend, opts *bind.TransactOpts, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		backend: backend,
		opts:    opts,
		timeout: timeout,
		log:     log.With().Str("component", "chain").Logger(),
	}
}

// Close releases the RPC connection when the backend holds one.
func (c *Client) Close() {
	if cl, ok := c.backend.(interface{ Close() }); ok {
		cl.Close()
	}
}

// Sender is the address transactions are signed with.
func (c *Client) Sender() common.Address { return c.opts.From }

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// call packs method on the given ABI, runs eth_call with retry and unpacks the result.
func (c *Client) call(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{From: c.opts.From, To: &to, Data: data}
	ret, err := withRetry(ctx, func(ctx context.Context) ([]byte, error) {
		cctx, cancel := c.callCtx(ctx)
		defer cancel()
		return c.backend.CallContract(cctx, msg, nil)
	})
	if err != nil {
		return nil, providerErr(method, err)
	}
	if len(ret) == 0 {
		// no code at the address or a non-standard token; callers treat it as a revert
		return nil, providerErr(method, fmt.Errorf("%s on %s: empty return: %w", method, to.Hex(), ErrReverted))
	}
	out, err := parsed.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (c *Client) readUint(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, parsed, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return v, nil
}

// ReadAllowance returns token.allowance(owner, spender).
func (c *Client) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.readUint(ctx, erc20ABI, token, "allowance", owner, spender)
}

// ReadBalance returns token.balanceOf(owner).
func (c *Client) ReadBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.readUint(ctx, erc20ABI, token, "balanceOf", owner)
}

// ReadDecimals returns token.decimals().
func (c *Client) ReadDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.call(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected return type %T", out[0])
	}
	return d, nil
}

// ReadPositionSlot returns contract.positions(owner, id).
func (c *Client) ReadPositionSlot(ctx context.Context, contract, owner common.Address, id uint64) (PositionSlot, error) {
	out, err := c.call(ctx, vaultABI, contract, MethodPositions, owner, new(big.Int).SetUint64(id))
	if err != nil {
		return PositionSlot{}, err
	}
	return decodePositionSlot(out)
}

func decodePositionSlot(out []any) (PositionSlot, error) {
	if len(out) != 5 {
		return PositionSlot{}, fmt.Errorf("positions: want 5 values, got %d", len(out))
	}
	token, ok1 := out[0].(common.Address)
	principal, ok2 := out[1].(*big.Int)
	start, ok3 := out[2].(*big.Int)
	unlock, ok4 := out[3].(*big.Int)
	active, ok5 := out[4].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return PositionSlot{}, fmt.Errorf("positions: unexpected return types %T %T %T %T %T", out[0], out[1], out[2], out[3], out[4])
	}
	slot := PositionSlot{
		Token:     token,
		Principal: principal,
		StartTime: time.Unix(start.Int64(), 0).UTC(),
		Active:    active,
	}
	if unlock.Sign() > 0 {
		slot.UnlockTime = time.Unix(unlock.Int64(), 0).UTC()
	}
	return slot, nil
}

func (c *Client) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *c.opts
	opts.Context = ctx
	return &opts
}

func (c *Client) transact(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) (common.Hash, error) {
	bound := bind.NewBoundContract(to, parsed, c.backend, c.backend, c.backend)
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	tx, err := bound.Transact(c.transactOpts(cctx), method, args...)
	if err != nil {
		c.log.Warn().Str("reason", RevertReason(err)).Str("method", method).Str("to", to.Hex()).Msg("submit failed")
		return common.Hash{}, providerErr(method, err)
	}
	c.log.Info().Str("method", method).Str("to", to.Hex()).Str("tx", tx.Hash().Hex()).
		Uint64("nonce", tx.Nonce()).Uint64("gas", tx.Gas()).Msg("submitted")
	return tx.Hash(), nil
}

// SubmitApproval sends token.approve(spender, amount).
func (c *Client) SubmitApproval(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, erc20ABI, token, "approve", spender, amount)
}

// SubmitAction sends a state-changing vault call.
func (c *Client) SubmitAction(ctx context.Context, contract common.Address, method string, args ...any) (common.Hash, error) {
	if _, ok := vaultABI.Methods[method]; !ok {
		return common.Hash{}, fmt.Errorf("unknown vault method %q", method)
	}
	return c.transact(ctx, vaultABI, contract, method, args...)
}

// GetReceipt returns ErrPending until the transaction is mined.
func (c *Client) GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	rcpt, err := withRetry(ctx, func(ctx context.Context) (*types.Receipt, error) {
		cctx, cancel := c.callCtx(ctx)
		defer cancel()
		r, err := c.backend.TransactionReceipt(cctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return r, err
	})
	if err != nil {
		return nil, providerErr("receipt", err)
	}
	if rcpt == nil {
		return nil, ErrPending
	}
	out := &Receipt{Status: TxFailed}
	if rcpt.Status == types.ReceiptStatusSuccessful {
		out.Status = TxConfirmed
	}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	return out, nil
}

// GetBlock reads the header of the given block.
func (c *Client) GetBlock(ctx context.Context, number uint64) (Block, error) {
	h, err := withRetry(ctx, func(ctx context.Context) (*types.Header, error) {
		cctx, cancel := c.callCtx(ctx)
		defer cancel()
		return c.backend.HeaderByNumber(cctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return Block{}, providerErr("block", err)
	}
	if h == nil {
		return Block{}, providerErr("block", fmt.Errorf("block %d: %w", number, ethereum.NotFound))
	}
	return Block{Number: number, Timestamp: time.Unix(int64(h.Time), 0).UTC()}, nil
}
