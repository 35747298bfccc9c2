// Configuration of the bridge server.
// Keep the fields as "text" as possible: easier to load from env vars
// or a config file via viper.

package config

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

const (
	// backend strategies
	BackendRPC      = "rpc"
	BackendFollower = "follower"
)

type BridgeConfig struct {
	// host ledger side
	HostRpcUrl       string // json rpc url of the host ledger node
	HostContract     string // hex address of the currency contract
	HostCurrencyId   uint64 // id of the bridged currency on the host ledger
	HostBridgeAcct   string // hex address of the bridge receiving account
	HostSecretKey    string // hex private key of the bridge host account
	HostTokenDecimal int32  // fractional digits of the token currency
	HostConfirms     int64  // host-chain confirmations before payout
	HostPollSeconds  int64  // host block poll interval, 0 = default
	HostFeeFloor     uint64 // min native balance to fund transfer fees, 0 = default

	// exchange
	ExchangeRate string // coin per whole token, <= 8 fractional digits

	// state side
	DbFilePath string

	// coin side
	Backend        string // "rpc" or "follower"
	CoinConfirms   int64  // coin-chain confirmations before issuance
	CoinNet        string // "mainnet", "testnet", "regtest"
	TxFeeRate      int64  // satoshi per estimated KB
	DustThreshold  int64  // satoshi; change below this folds into the fee
	WalletPassword string // encrypts the follower seed / unlocks the rpc wallet

	// rpc strategy only
	BtcRpcServer   string
	BtcRpcPort     string
	BtcRpcUsername string
	BtcRpcPwd      string

	// follower strategy only
	HeaderWindow int64 // retained headers bounding the rollback depth

	// http side
	HttpIp   string
	HttpPort string

	// logging
	LogFile string // empty = stderr
}

// FromViper builds a BridgeConfig from an already-initialized viper
// (config file read, env bound).
func FromViper() (*BridgeConfig, error) {
	cfg := &BridgeConfig{
		HostRpcUrl:       viper.GetString("host.rpc_url"),
		HostContract:     viper.GetString("host.contract"),
		HostCurrencyId:   viper.GetUint64("host.currency_id"),
		HostBridgeAcct:   viper.GetString("host.bridge_account"),
		HostSecretKey:    viper.GetString("host.secret_key"),
		HostTokenDecimal: viper.GetInt32("host.token_decimals"),
		HostConfirms:     viper.GetInt64("host.confirmations"),
		HostPollSeconds:  viper.GetInt64("host.poll_seconds"),
		HostFeeFloor:     viper.GetUint64("host.fee_floor"),
		ExchangeRate:     viper.GetString("exchange.rate"),
		DbFilePath:       viper.GetString("db.file"),
		Backend:          viper.GetString("coin.backend"),
		CoinConfirms:     viper.GetInt64("coin.confirmations"),
		CoinNet:          viper.GetString("coin.net"),
		TxFeeRate:        viper.GetInt64("coin.fee_rate"),
		DustThreshold:    viper.GetInt64("coin.dust_threshold"),
		WalletPassword:   viper.GetString("coin.wallet_password"),
		BtcRpcServer:     viper.GetString("coin.rpc.server"),
		BtcRpcPort:       viper.GetString("coin.rpc.port"),
		BtcRpcUsername:   viper.GetString("coin.rpc.username"),
		BtcRpcPwd:        viper.GetString("coin.rpc.password"),
		HeaderWindow:     viper.GetInt64("coin.header_window"),
		HttpIp:           viper.GetString("http.ip"),
		HttpPort:         viper.GetString("http.port"),
		LogFile:          viper.GetString("log.file"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *BridgeConfig) Validate() error {
	if c.HostRpcUrl == "" {
		return errors.New("host.rpc_url is required")
	}
	if c.HostContract == "" {
		return errors.New("host.contract is required")
	}
	if c.HostCurrencyId == 0 {
		return errors.New("host.currency_id is required")
	}
	if c.HostBridgeAcct == "" {
		return errors.New("host.bridge_account is required")
	}
	if c.ExchangeRate == "" {
		return errors.New("exchange.rate is required")
	}
	if c.DbFilePath == "" {
		return errors.New("db.file is required")
	}
	if c.Backend != BackendRPC && c.Backend != BackendFollower {
		return fmt.Errorf("coin.backend must be %q or %q", BackendRPC, BackendFollower)
	}
	if c.HostConfirms < 0 || c.CoinConfirms < 0 {
		return errors.New("confirmations cannot be negative")
	}
	if _, err := c.ChainParams(); err != nil {
		return err
	}
	return nil
}

// ChainParams resolves the configured coin network name.
func (c *BridgeConfig) ChainParams() (*chaincfg.Params, error) {
	switch c.CoinNet {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest", "":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown coin net %q", c.CoinNet)
	}
}
