package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method names on the vault / node contracts.
const (
	MethodStake       = "stake"
	MethodBuyNode     = "buyNode"
	MethodSplitInvest = "splitInvest"
	MethodPositions   = "positions"
)

const erc20JSON = `[
 {"type":"function","name":"allowance","stateMutability":"view",
  "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"decimals","stateMutability":"view",
  "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable",
  "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]}
]`

const vaultJSON = `[
 {"type":"function","name":"stake","stateMutability":"nonpayable",
  "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"lockDuration","type":"uint256"}],
  "outputs":[]},
 {"type":"function","name":"buyNode","stateMutability":"nonpayable",
  "inputs":[{"name":"nodeId","type":"uint256"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[]},
 {"type":"function","name":"splitInvest","stateMutability":"nonpayable",
  "inputs":[{"name":"planId","type":"uint256"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},
            {"name":"wallets","type":"address[3]"},{"name":"shares","type":"uint256[3]"}],
  "outputs":[]},
 {"type":"function","name":"positions","stateMutability":"view",
  "inputs":[{"name":"owner","type":"address"},{"name":"id","type":"uint256"}],
  "outputs":[{"name":"token","type":"address"},{"name":"principal","type":"uint256"},
             {"name":"startTime","type":"uint256"},{"name":"unlockTime","type":"uint256"},
             {"name":"active","type":"bool"}]}
]`

var (
	erc20ABI abi.ABI
	vaultABI abi.ABI
)

func init() {
	erc20ABI = mustParse(erc20JSON)
	vaultABI = mustParse(vaultJSON)
}

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("chain: bad embedded abi: " + err.Error())
	}
	return parsed
}
