package follower

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	ethcommon "github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/store"
)

func newTestFollower(t *testing.T) (*Follower, *SimulatedNetwork, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	st, err := store.NewStore(db)
	require.NoError(t, err)

	net := NewSimulatedNetwork()
	f, err := New(st, net, Config{
		ChainParams:   &chaincfg.RegressionNetParams,
		FeeRate:       2,
		DustThreshold: 546,
		HeaderWindow:  1000,
		Passphrase:    "test",
		Rate:          decimal.RequireFromString("0.001"),
		TokenDecimals: 6,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		st.Close()
		db.Close()
	})
	require.NoError(t, f.Start(ctx))
	<-f.Ready()
	return f, net, st
}

// newDeposit hands out a fresh deposit address bound to a random host
// account and returns its locking script for funding transactions.
func newDeposit(t *testing.T, f *Follower, st *store.Store) (string, []byte, ethcommon.Address) {
	t.Helper()
	addr, idx, err := f.NewDepositAddress()
	require.NoError(t, err)
	hostId := common.RandEthAddress()
	require.NoError(t, st.InsertAccount(&store.Account{
		CoinAddress:     addr,
		DerivationIndex: idx,
		HostAccountId:   hostId,
		CreatedAt:       time.Now().Unix(),
	}))
	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(decoded)
	require.NoError(t, err)
	return addr, pkScript, hostId
}

func waitHeight(t *testing.T, f *Follower, height int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := f.ChainHeight()
		return err == nil && got >= height
	}, 2*time.Second, 5*time.Millisecond)
}

func randDestination(t *testing.T) string {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		common.RandBytes(20), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func assertWalletInvariant(t *testing.T, st *store.Store) {
	t.Helper()
	bal, err := st.Balance()
	assert.NoError(t, err)
	sum, err := st.CountedUTXOSum()
	assert.NoError(t, err)
	assert.Equal(t, sum, bal)
}

func TestDepositRecorded(t *testing.T) {
	f, net, st := newTestFollower(t)
	addr, pkScript, hostId := newDeposit(t, f, st)

	tx := net.FundingTx(250000, pkScript)
	net.MineBlock(tx)
	waitHeight(t, f, 1)

	txid := tx.TxHash().String()
	payment, ok, err := st.GetPayment(txid, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, addr, payment.CoinAddress)
	assert.Equal(t, hostId, payment.HostAccountId)
	assert.Equal(t, int64(250000), payment.CoinAmount)
	assert.Equal(t, int64(1), payment.BlockHeight)
	assert.False(t, payment.Exchanged)
	// 250000 sat at 0.001 coin/token with 6 decimals
	assert.Equal(t, uint64(2500000), payment.TokenAmount)

	u, ok, err := st.GetUTXO(txid, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, u.Change)
	assert.Equal(t, int64(1), u.BlockHeight)

	bal, err := f.Balance()
	assert.NoError(t, err)
	assert.Equal(t, int64(250000), bal)
	assertWalletInvariant(t, st)
}

func TestPaymentToUnknownAddressNotRecorded(t *testing.T) {
	f, net, st := newTestFollower(t)

	// watched address without an account row: money is tracked,
	// but no issuance is owed
	addr, _, err := f.NewDepositAddress()
	require.NoError(t, err)
	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(decoded)
	require.NoError(t, err)

	tx := net.FundingTx(90000, pkScript)
	net.MineBlock(tx)
	waitHeight(t, f, 1)

	_, ok, err := st.GetPayment(tx.TxHash().String(), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	bal, err := f.Balance()
	assert.NoError(t, err)
	assert.Equal(t, int64(90000), bal)
}

func TestRestartResumesWatching(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	defer db.Close()
	st, err := store.NewStore(db)
	require.NoError(t, err)
	defer st.Close()

	cfg := Config{
		ChainParams:   &chaincfg.RegressionNetParams,
		FeeRate:       2,
		DustThreshold: 546,
		HeaderWindow:  1000,
		Passphrase:    "test",
		Rate:          decimal.RequireFromString("0.001"),
		TokenDecimals: 6,
	}
	net := NewSimulatedNetwork()
	f1, err := New(st, net, cfg)
	require.NoError(t, err)
	addr, _, err := f1.newAddressUnstarted()
	require.NoError(t, err)

	// a second follower over the same store derives the same watch set
	f2, err := New(st, net, cfg)
	require.NoError(t, err)
	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(decoded)
	require.NoError(t, err)
	_, watched := f2.watch[string(pkScript)]
	assert.True(t, watched)

	// wrong passphrase must not yield a working wallet
	bad := cfg
	bad.Passphrase = "nope"
	_, err = New(st, net, bad)
	assert.Error(t, err)
}

// newAddressUnstarted bypasses the readiness gate for restart tests.
func (f *Follower) newAddressUnstarted() (string, uint32, error) {
	idx, err := f.st.NextKeyIndex()
	if err != nil {
		return "", 0, err
	}
	key, err := f.kc.External(idx)
	if err != nil {
		return "", 0, err
	}
	f.watch[string(key.PkScript)] = watchEntry{key.Path, false, key.Address.EncodeAddress()}
	return key.Address.EncodeAddress(), idx, nil
}
