// Server = host-side components + coin-side backend + store + admin http.
// All components are configured through the BridgeConfig read by main.

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	_ "github.com/mattn/go-sqlite3"
	logger "github.com/sirupsen/logrus"

	"github.com/tokex-io/bridge-go/admin"
	"github.com/tokex-io/bridge-go/btcman"
	"github.com/tokex-io/bridge-go/btcman/follower"
	btcrpc "github.com/tokex-io/bridge-go/btcman/rpc"
	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/config"
	"github.com/tokex-io/bridge-go/engine"
	"github.com/tokex-io/bridge-go/hostledger"
	"github.com/tokex-io/bridge-go/matcher"
	"github.com/tokex-io/bridge-go/store"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// BridgeServer holds the wired components of one bridge instance.
type BridgeServer struct {
	Store   *store.Store
	Backend btcman.Backend
	Host    *hostledger.EthClient
	Matcher *matcher.Matcher
	Engine  *engine.Engine
	Admin   *admin.API
	Http    *admin.HttpServer
}

// NewBridgeServer wires every component and starts the background
// threads on ctx/wg. The caller waits on wg for a clean shutdown.
func NewBridgeServer(cfg *config.BridgeConfig, ctx context.Context, wg *sync.WaitGroup) (*BridgeServer, error) {
	chainParams, err := cfg.ChainParams()
	if err != nil {
		return nil, err
	}
	rate, err := common.ParseRate(cfg.ExchangeRate)
	if err != nil {
		return nil, err
	}
	privateKey, err := hostledger.StringToPrivateKey(cfg.HostSecretKey)
	if err != nil {
		return nil, fmt.Errorf("bad host secret key: %w", err)
	}
	bridgeAcct := ethcommon.HexToAddress(cfg.HostBridgeAcct)

	db, err := sql.Open("sqlite3", cfg.DbFilePath)
	if err != nil {
		return nil, fmt.Errorf("cannot open db file %s: %w", cfg.DbFilePath, err)
	}
	st, err := store.NewStore(db)
	if err != nil {
		return nil, err
	}

	host, err := hostledger.NewEthClient(hostledger.EthConfig{
		URL:             cfg.HostRpcUrl,
		ContractAddress: ethcommon.HexToAddress(cfg.HostContract),
		PrivateKey:      privateKey,
		PollInterval:    time.Duration(cfg.HostPollSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to host ledger at %s: %w", cfg.HostRpcUrl, err)
	}

	var backend btcman.Backend
	switch cfg.Backend {
	case config.BackendRPC:
		client, err := btcrpc.New(st, btcrpc.Config{
			Host:             cfg.BtcRpcServer + ":" + cfg.BtcRpcPort,
			User:             cfg.BtcRpcUsername,
			Pass:             cfg.BtcRpcPwd,
			WalletPassphrase: cfg.WalletPassword,
			FeeRate:          cfg.TxFeeRate,
			ChainParams:      chainParams,
			Rate:             rate,
			TokenDecimals:    cfg.HostTokenDecimal,
		})
		if err != nil {
			return nil, err
		}
		if err := client.Start(ctx); err != nil {
			return nil, fmt.Errorf("cannot reach coin node %s:%s: %w", cfg.BtcRpcServer, cfg.BtcRpcPort, err)
		}
		backend = client

	case config.BackendFollower:
		net, err := follower.NewRPCNetwork(follower.RPCNetworkConfig{
			Host:   cfg.BtcRpcServer + ":" + cfg.BtcRpcPort,
			User:   cfg.BtcRpcUsername,
			Pass:   cfg.BtcRpcPwd,
			Window: cfg.HeaderWindow,
		})
		if err != nil {
			return nil, err
		}
		f, err := follower.New(st, net, follower.Config{
			ChainParams:   chainParams,
			FeeRate:       cfg.TxFeeRate,
			DustThreshold: cfg.DustThreshold,
			HeaderWindow:  cfg.HeaderWindow,
			Passphrase:    cfg.WalletPassword,
			Rate:          rate,
			TokenDecimals: cfg.HostTokenDecimal,
		})
		if err != nil {
			return nil, err
		}
		// seed the network client with the headers the wallet already
		// holds, so a branch switch that happened while we were down is
		// detected on the first poll instead of wedging the follower
		headers, err := st.RetainedHeaders()
		if err != nil {
			return nil, err
		}
		for _, h := range headers {
			hash, err := chainhash.NewHashFromStr(h.Hash)
			if err != nil {
				return nil, fmt.Errorf("bad retained header hash %s: %w", h.Hash, err)
			}
			net.Seed(h.Height, *hash)
		}
		fromHeight := int64(-1)
		if _, best, err := st.BestBlock(); err == nil && best > 0 {
			fromHeight = best + 1
		}
		if err := net.Start(ctx, fromHeight); err != nil {
			return nil, fmt.Errorf("cannot reach coin node %s:%s: %w", cfg.BtcRpcServer, cfg.BtcRpcPort, err)
		}
		if err := f.Start(ctx); err != nil {
			return nil, err
		}
		backend = f

	default:
		return nil, fmt.Errorf("unknown coin backend %q", cfg.Backend)
	}

	match := matcher.New(st, matcher.Config{
		CurrencyId:    cfg.HostCurrencyId,
		BridgeAccount: bridgeAcct,
		PrivateKey:    privateKey,
		ChainParams:   chainParams,
		Rate:          rate,
		TokenDecimals: cfg.HostTokenDecimal,
	})

	eng := engine.New(st, backend, host, match, engine.Config{
		CurrencyId:        cfg.HostCurrencyId,
		BridgeAccount:     bridgeAcct,
		HostConfirmations: cfg.HostConfirms,
		CoinConfirmations: cfg.CoinConfirms,
		HostFeeFloor:      cfg.HostFeeFloor,
	})
	eng.Start(ctx, wg)

	if err := host.Start(ctx, -1); err != nil {
		return nil, err
	}

	api := admin.New(st, backend, eng, host, admin.Config{
		CurrencyId:    cfg.HostCurrencyId,
		BridgeAccount: bridgeAcct,
	})
	httpServer := admin.NewHttpServer(cfg.HttpIp, cfg.HttpPort, api)
	go func() {
		if err := httpServer.Run(); err != nil {
			logger.WithField("error", err).Error("admin http server stopped")
		}
	}()

	logger.WithFields(logger.Fields{
		"backend":       cfg.Backend,
		"net":           chainParams.Name,
		"bridgeAccount": bridgeAcct.String(),
	}).Info("bridge server started")

	return &BridgeServer{
		Store:   st,
		Backend: backend,
		Host:    host,
		Matcher: match,
		Engine:  eng,
		Admin:   api,
		Http:    httpServer,
	}, nil
}

// StartBridgeServerAndWait creates the server and blocks until SIGINT
// or SIGTERM, then shuts the background threads down.
func StartBridgeServerAndWait(cfg *config.BridgeConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup
	server, err := NewBridgeServer(cfg, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create bridge server: %v", err)
		return
	}

	wg.Wait()
	server.Backend.Close()
	server.Store.Close()
}
