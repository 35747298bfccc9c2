package follower

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokex-io/bridge-go/store"
)

func TestReorgMovesDeposit(t *testing.T) {
	f, net, st := newTestFollower(t)
	_, pkScript, _ := newDeposit(t, f, st)

	tx := net.FundingTx(120000, pkScript)
	net.MineBlock(tx)
	net.MineBlock()
	waitHeight(t, f, 2)

	// fork below the deposit; the new branch re-mines the same tx one
	// block later
	newBlocks := net.ReorgTo(0, nil, []*wire.MsgTx{tx})
	newBlockId := newBlocks[1].Header.BlockHash().String()

	txid := tx.TxHash().String()
	require.Eventually(t, func() bool {
		p, ok, err := st.GetPayment(txid, 0)
		return err == nil && ok && p.CoinBlockId == newBlockId
	}, 2*time.Second, 5*time.Millisecond)

	p, _, err := st.GetPayment(txid, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.BlockHeight)
	assert.False(t, p.Exchanged)

	u, ok, err := st.GetUTXO(txid, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), u.BlockHeight)

	bal, err := f.Balance()
	assert.NoError(t, err)
	assert.Equal(t, int64(120000), bal)
	assertWalletInvariant(t, st)
}

func TestReorgDropsThenRestoresDeposit(t *testing.T) {
	f, net, st := newTestFollower(t)
	_, pkScript, _ := newDeposit(t, f, st)

	tx := net.FundingTx(75000, pkScript)
	net.MineBlock(tx)
	waitHeight(t, f, 1)

	// the replacement branch does not contain the deposit
	net.ReorgTo(0, nil)
	txid := tx.TxHash().String()
	require.Eventually(t, func() bool {
		u, ok, err := st.GetUTXO(txid, 0)
		return err == nil && ok && u.BlockHeight == 0
	}, 2*time.Second, 5*time.Millisecond)

	// deactivated, not deleted: the money may come back
	bal, err := f.Balance()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), bal)
	p, _, err := st.GetPayment(txid, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.BlockHeight)
	assertWalletInvariant(t, st)

	// it gets mined again on the surviving chain
	net.MineBlock(tx)
	require.Eventually(t, func() bool {
		u, ok, err := st.GetUTXO(txid, 0)
		return err == nil && ok && u.BlockHeight == 2
	}, 2*time.Second, 5*time.Millisecond)

	bal, err = f.Balance()
	assert.NoError(t, err)
	assert.Equal(t, int64(75000), bal)
	p, _, err = st.GetPayment(txid, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.BlockHeight)
	assertWalletInvariant(t, st)
}

func TestRollbackChain(t *testing.T) {
	f, net, st := newTestFollower(t)
	_, pkScript, _ := newDeposit(t, f, st)

	net.MineBlock()
	net.MineBlock()
	tx := net.FundingTx(60000, pkScript)
	net.MineBlock(tx)
	waitHeight(t, f, 3)

	require.NoError(t, f.RollbackChain(2))

	height, err := f.ChainHeight()
	assert.NoError(t, err)
	assert.Equal(t, int64(2), height)

	u, ok, err := st.GetUTXO(tx.TxHash().String(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), u.BlockHeight)
	bal, err := f.Balance()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), bal)
	assertWalletInvariant(t, st)
}

func TestRollbackChainBeforeReady(t *testing.T) {
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
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f1.Start(ctx))
	<-f1.Ready()
	_, pkScript, _ := newDeposit(t, f1, st)

	net.MineBlock()
	tx := net.FundingTx(60000, pkScript)
	net.MineBlock(tx)
	waitHeight(t, f1, 2)
	cancel()

	// a wallet restarted onto a branch the node no longer serves never
	// links the next delivered block, so it never becomes ready; the
	// operator rollback is the way out and must not wait for readiness
	f2, err := New(st, net, cfg)
	require.NoError(t, err)
	require.False(t, f2.isReady())
	require.NoError(t, f2.RollbackChain(1))

	height, err := f2.ChainHeight()
	require.NoError(t, err)
	assert.Equal(t, int64(1), height)

	u, ok, err := st.GetUTXO(tx.TxHash().String(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), u.BlockHeight)
	assertWalletInvariant(t, st)
}
