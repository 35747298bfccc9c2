/*
Package admin is the operator surface of the bridge: status, ledger
queries, manual interventions and the two node notification hooks.
Credential checks live in the outer layer that mounts these operations;
everything here assumes the caller is already trusted.
*/
package admin

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/tokex-io/bridge-go/btcman"
	"github.com/tokex-io/bridge-go/engine"
	"github.com/tokex-io/bridge-go/hostledger"
	"github.com/tokex-io/bridge-go/store"
)

type Config struct {
	CurrencyId    uint64
	BridgeAccount ethcommon.Address
}

type API struct {
	st      *store.Store
	backend btcman.Backend
	engine  *engine.Engine
	host    hostledger.Client
	cfg     Config
}

func New(st *store.Store, backend btcman.Backend, eng *engine.Engine, host hostledger.Client, cfg Config) *API {
	return &API{st: st, backend: backend, engine: eng, host: host, cfg: cfg}
}

// ready reports whether the coin backend has finished initializing.
// Mutating operations refuse to run before that.
func (a *API) ready() bool {
	select {
	case <-a.backend.Ready():
		return true
	default:
		return false
	}
}

// Status is a point-in-time snapshot of both chains and the backlog.
type Status struct {
	State          engine.Status `json:"state"`
	SuspendReason  string        `json:"suspendReason,omitempty"`
	BackendReady   bool          `json:"backendReady"`
	HostHeight     int64         `json:"hostHeight"`
	CoinHeight     int64         `json:"coinHeight"`
	WalletBalance  int64         `json:"walletBalance"` // satoshi
	HostBalance    uint64        `json:"hostBalance"`   // bridge account, coin units
	TokenBalance   uint64        `json:"tokenBalance"`  // bridge account, token units
	PendingTokens  int64         `json:"pendingTokens"`
	PendingDeposit int64         `json:"pendingDeposits"`
}

func (a *API) GetStatus() (*Status, error) {
	state, reason := a.engine.State().Snapshot()
	s := &Status{
		State:         state,
		SuspendReason: reason,
		BackendReady:  a.ready(),
		HostHeight:    a.engine.HostHeight(),
	}
	if s.BackendReady {
		h, err := a.backend.ChainHeight()
		if err != nil {
			return nil, err
		}
		s.CoinHeight = h
		bal, err := a.backend.Balance()
		if err != nil {
			return nil, err
		}
		s.WalletBalance = bal
	}
	hostBal, _, err := a.host.Balance(a.cfg.BridgeAccount)
	if err != nil {
		return nil, err
	}
	s.HostBalance = hostBal
	tokenBal, err := a.host.CurrencyBalance(a.cfg.BridgeAccount, a.cfg.CurrencyId)
	if err != nil {
		return nil, err
	}
	s.TokenBalance = tokenBal
	if s.PendingTokens, err = a.st.CountPendingRedemptions(); err != nil {
		return nil, err
	}
	if s.PendingDeposit, err = a.st.CountPendingPayments(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetTokens lists recorded redemptions from a host height up.
func (a *API) GetTokens(fromHeight int64, includeExchanged bool) ([]*store.Redemption, error) {
	return a.st.ListRedemptions(fromHeight, includeExchanged)
}

// DeleteToken removes an unsettled redemption from the backlog. Settled
// redemptions stay on record and cannot be deleted.
func (a *API) DeleteToken(hostTxId ethcommon.Hash) error {
	if err := a.st.DeleteRedemption(hostTxId); err != nil {
		return err
	}
	logger.WithField("hostTxId", hostTxId.String()).Warn("redemption deleted by operator")
	return nil
}

// RequestAddress returns the deposit address for a host account. The
// current address is reused until a deposit arrives on it; an address
// holding an unexchanged deposit is never handed out again.
func (a *API) RequestAddress(hostAccountId ethcommon.Address, publicKey []byte) (string, error) {
	if !a.ready() {
		return "", btcman.ErrNotReady
	}
	existing, ok, err := a.st.GetAccountByHostId(hostAccountId)
	if err != nil {
		return "", err
	}
	if ok {
		pending, err := a.st.HasUnexchangedPaymentForAddress(existing.CoinAddress)
		if err != nil {
			return "", err
		}
		if !pending {
			return existing.CoinAddress, nil
		}
	}
	address, index, err := a.backend.NewDepositAddress()
	if err != nil {
		return "", err
	}
	err = a.st.InsertAccount(&store.Account{
		CoinAddress:     address,
		DerivationIndex: index,
		HostAccountId:   hostAccountId,
		HostPublicKey:   publicKey,
		CreatedAt:       a.host.EpochTime(),
	})
	if err != nil {
		return "", err
	}
	logger.WithFields(logger.Fields{
		"hostAccountId": hostAccountId.String(),
		"coinAddress":   address,
	}).Info("deposit address assigned")
	return address, nil
}

// GetAccounts looks up accounts by host id, by coin address, or lists
// all of them when neither filter is given.
func (a *API) GetAccounts(hostAccountId ethcommon.Address, coinAddress string) ([]*store.Account, error) {
	if coinAddress != "" {
		acct, ok, err := a.st.GetAccountByCoinAddress(coinAddress)
		if err != nil || !ok {
			return nil, err
		}
		return []*store.Account{acct}, nil
	}
	if hostAccountId != (ethcommon.Address{}) {
		acct, ok, err := a.st.GetAccountByHostId(hostAccountId)
		if err != nil || !ok {
			return nil, err
		}
		return []*store.Account{acct}, nil
	}
	return a.st.ListAccounts()
}

// GetTransactions lists recorded coin deposits, optionally filtered by
// the receiving address.
func (a *API) GetTransactions(coinAddress string, includeExchanged bool) ([]*store.Payment, error) {
	return a.st.ListPayments(coinAddress, includeExchanged)
}

// BlockReceived forwards a node block notification to the backend.
func (a *API) BlockReceived(blockId string) error {
	if !a.ready() {
		return btcman.ErrNotReady
	}
	return a.backend.BlockReceived(blockId)
}

// TransactionReceived forwards a node transaction notification to the
// backend.
func (a *API) TransactionReceived(txId string) error {
	if !a.ready() {
		return btcman.ErrNotReady
	}
	return a.backend.TransactionReceived(txId)
}

// Suspend halts settlement; recording continues.
func (a *API) Suspend(reason string) {
	if reason == "" {
		reason = "operator requested"
	}
	a.engine.State().Suspend(reason)
}

// Resume lifts a suspension and settles the accumulated backlog.
func (a *API) Resume() {
	a.engine.Resume()
}

// SendCoins pays an arbitrary address from the wallet, outside of any
// redemption.
func (a *API) SendCoins(address string, amount int64) (string, error) {
	if !a.ready() {
		return "", btcman.ErrNotReady
	}
	txId, err := a.backend.Pay(ethcommon.Hash{}, address, amount)
	if err != nil {
		return "", err
	}
	logger.WithFields(logger.Fields{
		"coinTxId": txId,
		"address":  address,
		"amount":   amount,
	}).Warn("manual payment sent")
	return txId, nil
}

// EmptyWallet sweeps the whole wallet balance to the given address.
func (a *API) EmptyWallet(address string) (string, int64, error) {
	if !a.ready() {
		return "", 0, btcman.ErrNotReady
	}
	txId, amount, err := a.backend.Sweep(address)
	if err != nil {
		return "", 0, err
	}
	logger.WithFields(logger.Fields{
		"coinTxId": txId,
		"address":  address,
		"amount":   amount,
	}).Warn("wallet emptied")
	return txId, amount, nil
}

// RollbackChain rewinds the backend's view of the coin chain to the
// given height and replays from there. No readiness gate: a backend
// wedged on a stale branch never reports ready, and this is the
// operator's way to unwedge it.
func (a *API) RollbackChain(height int64) error {
	return a.backend.RollbackChain(height)
}
