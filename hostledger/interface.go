package hostledger

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Client is what the bridge consumes from the host ledger. The ledger's own
// transaction/block model, signing and consensus stay behind this interface.
type Client interface {
	// Height returns the current host chain height.
	Height() (int64, error)

	// EpochTime returns the host ledger's clock in epoch seconds.
	EpochTime() int64

	// Balance returns the bridge account's native balance in host coin
	// units, confirmed and unconfirmed.
	Balance(acct ethcommon.Address) (confirmed, unconfirmed uint64, err error)

	// CurrencyBalance returns the bridge account's unconfirmed balance of
	// the given currency, in smallest token units.
	CurrencyBalance(acct ethcommon.Address, currencyId uint64) (uint64, error)

	// BroadcastTransfer signs and broadcasts a currency transfer from the
	// bridge account and returns the host transaction id.
	BroadcastTransfer(recipient ethcommon.Address, currencyId uint64, units uint64) (ethcommon.Hash, error)

	// Blocks is the block-pushed notification stream. Rescanned blocks are
	// replayed through the same stream; consumers must be idempotent.
	Blocks() <-chan *Block
}
