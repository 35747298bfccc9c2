package matcher

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/hostledger"
	"github.com/tokex-io/bridge-go/store"
)

const (
	testCurrency = uint64(42)
	testDecimals = int32(6)
)

// validDest is a well-formed regtest address destination.
var validDest = func() string {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		common.RandBytes(20), &chaincfg.RegressionNetParams)
	if err != nil {
		panic(err)
	}
	return addr.EncodeAddress()
}()

func newTestMatcher(t *testing.T) (*Matcher, *store.Store, ethcommon.Address) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	st, err := store.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close(); db.Close() })

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	bridge := crypto.PubkeyToAddress(priv.PublicKey)

	m := New(st, Config{
		CurrencyId:    testCurrency,
		BridgeAccount: bridge,
		PrivateKey:    priv,
		ChainParams:   &chaincfg.RegressionNetParams,
		Rate:          decimal.RequireFromString("0.001"),
		TokenDecimals: testDecimals,
	})
	return m, st, bridge
}

func redemptionTx(bridge ethcommon.Address, units uint64, message []byte, encrypted bool) *hostledger.Transaction {
	return &hostledger.Transaction{
		Id:     common.HexStrToHash(common.ByteSliceToPureHexStr(common.RandBytes(32))),
		Sender: common.RandEthAddress(),
		Transfer: &hostledger.CurrencyTransfer{
			CurrencyId: testCurrency,
			Recipient:  bridge,
			Units:      units,
		},
		Message: &hostledger.Message{Data: message, Encrypted: encrypted},
	}
}

func blockWith(height int64, txs ...*hostledger.Transaction) *hostledger.Block {
	return &hostledger.Block{
		Id:           common.HexStrToHash(common.ByteSliceToPureHexStr(common.RandBytes(32))),
		Height:       height,
		Timestamp:    1700000000,
		Transactions: txs,
	}
}

func TestRedemptionRecordedWithExactRate(t *testing.T) {
	m, st, bridge := newTestMatcher(t)

	// 100 whole tokens at 0.001 coin per token = 0.1 coin
	tx := redemptionTx(bridge, 100_000_000, []byte(validDest), false)
	require.NoError(t, m.OnBlock(blockWith(7, tx)))

	r, ok, err := st.GetRedemption(tx.Id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10_000_000), r.CoinAmount)
	assert.Equal(t, validDest, r.Destination)
	assert.Equal(t, int64(7), r.BlockHeight)
	assert.False(t, r.Exchanged)
}

func TestRedemptionIdempotent(t *testing.T) {
	m, st, bridge := newTestMatcher(t)

	tx := redemptionTx(bridge, 5_000_000, []byte(validDest), false)
	block := blockWith(3, tx)

	// the host stream may replay blocks after a rescan
	require.NoError(t, m.OnBlock(block))
	require.NoError(t, m.OnBlock(block))

	list, err := st.ListRedemptions(0, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEncryptedMessage(t *testing.T) {
	m, st, bridge := newTestMatcher(t)

	sealed, err := hostledger.SealMessage([]byte(validDest), &m.cfg.PrivateKey.PublicKey)
	require.NoError(t, err)
	tx := redemptionTx(bridge, 2_000_000, sealed, true)
	require.NoError(t, m.OnBlock(blockWith(4, tx)))

	r, ok, err := st.GetRedemption(tx.Id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, validDest, r.Destination)
}

func TestInvalidTransfersDropped(t *testing.T) {
	m, st, bridge := newTestMatcher(t)

	garbage := redemptionTx(bridge, 1_000_000, []byte("not an address"), false)
	noMessage := redemptionTx(bridge, 1_000_000, nil, false)
	zero := redemptionTx(bridge, 0, []byte(validDest), false)
	wrongCurrency := redemptionTx(bridge, 1_000_000, []byte(validDest), false)
	wrongCurrency.Transfer.CurrencyId = testCurrency + 1
	wrongRecipient := redemptionTx(bridge, 1_000_000, []byte(validDest), false)
	wrongRecipient.Transfer.Recipient = common.RandEthAddress()
	undecryptable := redemptionTx(bridge, 1_000_000, []byte("junk ciphertext"), true)

	require.NoError(t, m.OnBlock(blockWith(5,
		garbage, noMessage, zero, wrongCurrency, wrongRecipient, undecryptable)))

	list, err := st.ListRedemptions(0, true)
	require.NoError(t, err)
	assert.Empty(t, list)
}
