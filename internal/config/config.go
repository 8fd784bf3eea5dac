package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Settings keeps all configuration options.
// Every key is accepted in both UPPER_CASE and lower_case form.
type Settings struct {
	RPCURL        string
	ChainID       string // empty means ask the node
	PrivateKeyHex string

	TokenAddress string
	VaultAddress string // stake + splitInvest contract
	NodeAddress  string // buyNode contract; falls back to the vault when empty

	PlansFile string
	RecordsDB string

	LocatorTolerance    time.Duration
	LocatorMaxPositions uint64
	LocatorSettle       time.Duration

	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
	RPCTimeout     time.Duration

	LogLevel    string
	LogPretty   bool
	MetricsAddr string
}

// Load reads .env (if present) and then the process environment.
func Load() Settings {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() Settings {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v
			}
		}
		return def
	}
	getInt64 := func(keys []string, def int64) int64 {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return def
	}
	getUint64 := func(keys []string, def uint64) uint64 {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n
		}
		return def
	}
	getBool := func(keys []string, def bool) bool {
		s := strings.ToLower(get(keys, ""))
		if s == "" {
			return def
		}
		return s == "1" || s == "true" || s == "yes" || s == "on"
	}

	st := Settings{}
	st.RPCURL = get([]string{"rpc_url", "RPC_URL"}, "http://127.0.0.1:8545")
	st.ChainID = get([]string{"chain_id", "CHAIN_ID"}, "")
	st.PrivateKeyHex = get([]string{"private_key", "PRIVATE_KEY"}, "")

	st.TokenAddress = get([]string{"token_address", "TOKEN_ADDRESS"}, "")
	st.VaultAddress = get([]string{"vault_address", "VAULT_ADDRESS"}, "")
	st.NodeAddress = get([]string{"node_address", "NODE_ADDRESS"}, st.VaultAddress)

	st.PlansFile = get([]string{"plans_file", "PLANS_FILE"}, "plans.json")
	st.RecordsDB = get([]string{"records_db", "RECORDS_DB"}, "data/records.db")

	st.LocatorTolerance = time.Duration(getInt64([]string{"locator_tolerance_sec", "LOCATOR_TOLERANCE_SEC"}, 300)) * time.Second
	st.LocatorMaxPositions = getUint64([]string{"locator_max_positions", "LOCATOR_MAX_POSITIONS"}, 128)
	st.LocatorSettle = time.Duration(getInt64([]string{"locator_settle_ms", "LOCATOR_SETTLE_MS"}, 2000)) * time.Millisecond

	st.ReceiptPoll = time.Duration(getInt64([]string{"receipt_poll_ms", "RECEIPT_POLL_MS"}, 1500)) * time.Millisecond
	st.ReceiptTimeout = time.Duration(getInt64([]string{"receipt_timeout_sec", "RECEIPT_TIMEOUT_SEC"}, 180)) * time.Second
	st.RPCTimeout = time.Duration(getInt64([]string{"rpc_timeout_sec", "RPC_TIMEOUT_SEC"}, 15)) * time.Second

	st.LogLevel = get([]string{"log_level", "LOG_LEVEL"}, "info")
	st.LogPretty = getBool([]string{"log_pretty", "LOG_PRETTY"}, true)
	st.MetricsAddr = get([]string{"metrics_addr", "METRICS_ADDR"}, "")

	return st
}

// Validate checks the settings every chain-touching command needs.
func (s Settings) Validate() error {
	var errs []error
	if s.RPCURL == "" {
		errs = append(errs, errors.New("RPC_URL is empty"))
	}
	for name, v := range map[string]string{
		"TOKEN_ADDRESS": s.TokenAddress,
		"VAULT_ADDRESS": s.VaultAddress,
		"NODE_ADDRESS":  s.NodeAddress,
	} {
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Errorf("%s is not a valid address: %q", name, v))
		}
	}
	if s.LocatorMaxPositions == 0 {
		errs = append(errs, errors.New("LOCATOR_MAX_POSITIONS must be > 0"))
	}
	if s.LocatorTolerance <= 0 {
		errs = append(errs, errors.New("LOCATOR_TOLERANCE_SEC must be > 0"))
	}
	return errors.Join(errs...)
}
