package admin

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	ethcommon "github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokex-io/bridge-go/btcman"
	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/engine"
	"github.com/tokex-io/bridge-go/hostledger"
	"github.com/tokex-io/bridge-go/store"
)

// stubBackend hands out sequential addresses and accepts every payment.
type stubBackend struct {
	ready     chan struct{}
	nextIndex uint32
	pays      int
	rollbacks []int64
}

func newStubBackend(ready bool) *stubBackend {
	b := &stubBackend{ready: make(chan struct{})}
	if ready {
		close(b.ready)
	}
	return b
}

func (b *stubBackend) Ready() <-chan struct{}      { return b.ready }
func (b *stubBackend) TipChanges() <-chan int64    { return nil }
func (b *stubBackend) ChainHeight() (int64, error) { return 100, nil }
func (b *stubBackend) Balance() (int64, error)     { return 1_000_000, nil }

func (b *stubBackend) NewDepositAddress() (string, uint32, error) {
	index := b.nextIndex
	b.nextIndex++
	return fmt.Sprintf("bcrt1qaddr%04d", index), index, nil
}

func (b *stubBackend) Pay(ethcommon.Hash, string, int64) (string, error) {
	b.pays++
	return common.ByteSliceToPureHexStr(common.RandBytes(32)), nil
}

func (b *stubBackend) Sweep(string) (string, int64, error) {
	return common.ByteSliceToPureHexStr(common.RandBytes(32)), 999_000, nil
}

func (b *stubBackend) FindPayment(ethcommon.Hash, string, int64) (string, bool, error) {
	return "", false, nil
}
func (b *stubBackend) BlockReceived(string) error       { return nil }
func (b *stubBackend) TransactionReceived(string) error { return nil }
func (b *stubBackend) Close()                           {}

func (b *stubBackend) RollbackChain(height int64) error {
	b.rollbacks = append(b.rollbacks, height)
	return nil
}

func newTestAPI(t *testing.T, ready bool) (*API, *store.Store, *stubBackend) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	st, err := store.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close(); db.Close() })

	backend := newStubBackend(ready)
	host := hostledger.NewSimulatedClient()
	bridge := common.RandEthAddress()
	eng := engine.New(st, backend, host, nil, engine.Config{
		CurrencyId:        7,
		BridgeAccount:     bridge,
		HostConfirmations: 10,
		CoinConfirmations: 10,
	})
	api := New(st, backend, eng, host, Config{CurrencyId: 7, BridgeAccount: bridge})
	return api, st, backend
}

func TestRequestAddressReuse(t *testing.T) {
	api, st, _ := newTestAPI(t, true)
	hostId := common.RandEthAddress()

	first, err := api.RequestAddress(hostId, nil)
	require.NoError(t, err)

	// no deposit yet, the same address comes back
	again, err := api.RequestAddress(hostId, nil)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// an unexchanged deposit retires the address
	inserted, err := st.InsertPayment(&store.Payment{
		CoinTxId:      common.ByteSliceToPureHexStr(common.RandBytes(32)),
		CoinAddress:   first,
		HostAccountId: hostId,
		CoinAmount:    10000,
		TokenAmount:   100,
		BlockHeight:   5,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	fresh, err := api.RequestAddress(hostId, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)

	// the retired address still resolves for attribution
	acct, ok, err := st.GetAccountByCoinAddress(first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hostId, acct.HostAccountId)

	// the new address is the account's current one
	acct, ok, err = st.GetAccountByHostId(hostId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fresh, acct.CoinAddress)
}

func TestMutatingOpsRequireReadiness(t *testing.T) {
	api, _, _ := newTestAPI(t, false)

	_, err := api.RequestAddress(common.RandEthAddress(), nil)
	assert.ErrorIs(t, err, btcman.ErrNotReady)
	_, err = api.SendCoins("bcrt1qsomewhere", 1000)
	assert.ErrorIs(t, err, btcman.ErrNotReady)
	_, _, err = api.EmptyWallet("bcrt1qsomewhere")
	assert.ErrorIs(t, err, btcman.ErrNotReady)
	assert.ErrorIs(t, api.BlockReceived("blockid"), btcman.ErrNotReady)
	assert.ErrorIs(t, api.TransactionReceived("txid"), btcman.ErrNotReady)

	// read ops and the state machine keep working
	_, err = api.GetTokens(0, true)
	assert.NoError(t, err)
	api.Suspend("maintenance")
	s, err := api.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSuspended, s.State)
	assert.False(t, s.BackendReady)
	api.Resume()
}

func TestRollbackChainWorksWhileNotReady(t *testing.T) {
	api, _, backend := newTestAPI(t, false)

	// a backend wedged on a stale branch never reports ready; the
	// rollback is how the operator unwedges it
	require.NoError(t, api.RollbackChain(10))
	assert.Equal(t, []int64{10}, backend.rollbacks)
}

func TestDeleteTokenOnlyPending(t *testing.T) {
	api, st, _ := newTestAPI(t, true)

	red := &store.Redemption{
		HostTxId:    common.HexStrToHash(common.ByteSliceToPureHexStr(common.RandBytes(32))),
		Sender:      common.RandEthAddress(),
		BlockHeight: 1,
		Timestamp:   1700000000,
		TokenAmount: 1000,
		CoinAmount:  1000,
		Destination: "bcrt1qdest",
	}
	inserted, err := st.InsertRedemption(red)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, api.DeleteToken(red.HostTxId))

	inserted, err = st.InsertRedemption(red)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, st.MarkRedemptionExchanged(red.HostTxId, "sometxid"))
	assert.ErrorIs(t, api.DeleteToken(red.HostTxId), store.ErrAlreadyExchanged)
}

func TestStatusRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api, _, _ := newTestAPI(t, true)
	router := NewHttpServer("127.0.0.1", "0", api).SetupRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, ROUTE_STATUS, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, engine.StatusRunning, got.State)
	assert.True(t, got.BackendReady)
	assert.Equal(t, int64(100), got.CoinHeight)
	assert.Equal(t, int64(1_000_000), got.WalletBalance)

	// suspension is visible through the route
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, ROUTE_SUSPEND+"?reason=drill", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, ROUTE_STATUS, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, engine.StatusSuspended, got.State)
	assert.Equal(t, "drill", got.SuspendReason)
}

func TestNotReadyMapsToServiceUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api, _, _ := newTestAPI(t, false)
	router := NewHttpServer("127.0.0.1", "0", api).SetupRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		ROUTE_WALLET_SEND+"?address=bcrt1qsomewhere&amount=1000", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
