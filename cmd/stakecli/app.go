package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ligun0805/stakeflow/internal/catalog"
	"github.com/ligun0805/stakeflow/internal/chain"
	"github.com/ligun0805/stakeflow/internal/config"
	"github.com/ligun0805/stakeflow/internal/invest"
	"github.com/ligun0805/stakeflow/internal/locator"
	"github.com/ligun0805/stakeflow/internal/metrics"
	"github.com/ligun0805/stakeflow/internal/orchestrator"
	"github.com/ligun0805/stakeflow/internal/reconcile"
	"github.com/ligun0805/stakeflow/internal/records"
)

// app is everything a chain-touching command needs.
type app struct {
	st       config.Settings
	log      zerolog.Logger
	client   *chain.Client
	store    *records.Store
	metrics  *metrics.Metrics
	locator  *locator.Locator
	svc      *invest.Service
	token    common.Address
	vault    common.Address
	decimals int
	srv      *http.Server
}

func privateKey(st config.Settings) (string, error) {
	if pk := strings.TrimSpace(st.PrivateKeyHex); pk != "" {
		return pk, nil
	}
	pk := readPassword("Private key: ")
	if pk == "" {
		return "", errors.New("PRIVATE_KEY is empty")
	}
	return pk, nil
}

func openApp(ctx context.Context, st config.Settings, log zerolog.Logger) (*app, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	pk, err := privateKey(st)
	if err != nil {
		return nil, err
	}

	var chainID *big.Int
	if st.ChainID != "" {
		var ok bool
		if chainID, ok = parseBig(st.ChainID); !ok {
			return nil, fmt.Errorf("bad CHAIN_ID %q", st.ChainID)
		}
	}

	client, err := chain.Dial(ctx, chain.Config{
		RPCURL:        st.RPCURL,
		ChainID:       chainID,
		PrivateKeyHex: pk,
		RPCTimeout:    st.RPCTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	store, err := records.Open(st.RecordsDB, log)
	if err != nil {
		client.Close()
		return nil, err
	}

	a := &app{
		st:      st,
		log:     log,
		client:  client,
		store:   store,
		metrics: metrics.New("stakeflow"),
		token:   common.HexToAddress(st.TokenAddress),
		vault:   common.HexToAddress(st.VaultAddress),
	}
	a.serveMetrics()

	a.decimals = 18
	if d, err := client.ReadDecimals(ctx, a.token); err == nil {
		a.decimals = int(d)
	} else {
		log.Warn().Err(err).Msg("decimals() failed, assuming 18")
	}

	orch := orchestrator.New(client, log,
		orchestrator.WithPollInterval(st.ReceiptPoll),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithTxHook(printTxStatus),
	)
	a.locator = locator.New(client, locator.Config{
		Tolerance:    st.LocatorTolerance,
		MaxPositions: st.LocatorMaxPositions,
		SettleDelay:  st.LocatorSettle,
	}, log, a.metrics)
	rec := reconcile.New(a.locator, store, log, a.metrics)

	a.svc = invest.New(orch, rec, catalog.NewFile(st.PlansFile), client.Sender(), invest.Contracts{
		Token: a.token,
		Vault: a.vault,
		Node:  common.HexToAddress(st.NodeAddress),
	}, log)

	fmt.Println("=== CONFIG (.env) ===")
	fmt.Println("RPC_URL        :", st.RPCURL)
	fmt.Println("PRIVATE_KEY    :", maskHex(pk))
	fmt.Println("  -> address   :", client.Sender().Hex())
	fmt.Println("TOKEN_ADDRESS  :", a.token.Hex(), "| decimals:", a.decimals)
	fmt.Println("VAULT_ADDRESS  :", a.vault.Hex())
	fmt.Println("RECORDS_DB     :", st.RecordsDB)
	fmt.Println("=====================")
	return a, nil
}

func (a *app) serveMetrics() {
	if a.st.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.srv = &http.Server{Addr: a.st.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Str("addr", a.st.MetricsAddr).Msg("metrics server stopped")
		}
	}()
	a.log.Info().Str("addr", a.st.MetricsAddr).Msg("serving metrics")
}

// actionCtx bounds one approve-then-act cycle: two receipts plus the position search.
func (a *app) actionCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.st.ReceiptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, 2*a.st.ReceiptTimeout+a.st.LocatorSettle+time.Minute)
}

func (a *app) Close() {
	if a.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close records db")
	}
	a.client.Close()
}
