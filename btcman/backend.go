/*
Package btcman defines the coin-side backend contract of the bridge and
hosts its two strategies:

  - btcman/rpc drives a full node's wallet over JSON-RPC
    (the node tracks addresses, builds and signs transactions).
  - btcman/follower is an embedded lightweight wallet: it follows the
    chain through a peer-network client, derives its own keys
    (btcman/keychain) and builds/signs payouts from the tracked UTXO
    set in the durable store.

The settlement engine and admin layer only see the Backend interface.
*/
package btcman

import (
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotReady is returned by mutating calls before the backend has
	// caught up with the coin chain.
	ErrNotReady = errors.New("coin backend not ready")

	// ErrUnsupported marks operations a strategy cannot perform
	// (e.g. chain rollback on the RPC strategy).
	ErrUnsupported = errors.New("operation not supported by this backend")

	ErrInsufficientFunds = errors.New("insufficient wallet funds")
)

// Backend is the coin-side strategy the engine settles payouts through
// and the admin layer manages.
type Backend interface {
	// Ready is closed once the backend has caught up with the coin
	// chain and replayed its unconfirmed backlog. Mutating calls
	// before that return ErrNotReady.
	Ready() <-chan struct{}

	// TipChanges delivers the new best height whenever the coin chain
	// advances or recorded deposits change. The engine runs its
	// issuance pass off this channel, never on the backend's thread.
	TipChanges() <-chan int64

	ChainHeight() (int64, error)

	// Balance is the wallet balance in satoshi.
	Balance() (int64, error)

	// NewDepositAddress hands out a fresh receiving address and its
	// derivation index (0 for the RPC strategy, which delegates
	// key management to the node).
	NewDepositAddress() (address string, derivationIndex uint32, err error)

	// Pay sends amount satoshi to destination and returns the coin
	// transaction id. A non-zero hostTxId names the redemption being
	// settled: the follower strategy marks it exchanged in the same
	// database transaction that spends the UTXOs; the RPC strategy
	// cannot, so its caller persists the mark afterwards.
	Pay(hostTxId ethcommon.Hash, destination string, amount int64) (coinTxId string, err error)

	// Sweep empties the wallet to destination, fee taken out of the
	// swept amount. Returns the transaction id and the amount sent.
	Sweep(destination string) (coinTxId string, amount int64, err error)

	// FindPayment reports whether the payout for hostTxId is already
	// visible to the backend. Mandatory reconciliation before any
	// payout retry: broadcast and persist are not atomic. The match is
	// on hostTxId, never on (destination, amount) alone: two distinct
	// redemptions to the same address for the same amount must each be
	// paid.
	FindPayment(hostTxId ethcommon.Hash, destination string, amount int64) (coinTxId string, found bool, err error)

	// BlockReceived and TransactionReceived are notification hooks
	// (live -blocknotify/-walletnotify or admin-driven rescans).
	BlockReceived(blockId string) error
	TransactionReceived(txId string) error

	// RollbackChain rewinds the follower to height (ErrUnsupported on
	// the RPC strategy).
	RollbackChain(height int64) error

	Close()
}
