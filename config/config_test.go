package config

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *BridgeConfig {
	return &BridgeConfig{
		HostRpcUrl:     "http://127.0.0.1:8545",
		HostContract:   "0x1111111111111111111111111111111111111111",
		HostCurrencyId: 7,
		HostBridgeAcct: "0x2222222222222222222222222222222222222222",
		ExchangeRate:   "0.001",
		DbFilePath:     "/tmp/bridge.db",
		Backend:        BackendFollower,
		CoinNet:        "regtest",
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	c := validConfig()
	c.Backend = "embedded"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.ExchangeRate = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.CoinConfirms = -1
	assert.Error(t, c.Validate())
}

func TestChainParams(t *testing.T) {
	c := validConfig()
	params, err := c.ChainParams()
	require.NoError(t, err)
	assert.Equal(t, &chaincfg.RegressionNetParams, params)

	// empty net defaults to regtest
	c.CoinNet = ""
	params, err = c.ChainParams()
	require.NoError(t, err)
	assert.Equal(t, &chaincfg.RegressionNetParams, params)

	c.CoinNet = "signet"
	_, err = c.ChainParams()
	assert.Error(t, err)
}
