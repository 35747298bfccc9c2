package follower

import (
	"github.com/btcsuite/btcd/wire"
)

// BlockEvent is one connected block, delivered in chain order.
type BlockEvent struct {
	Header wire.BlockHeader
	Height int64
	Txs    []*wire.MsgTx
}

// ReorgEvent announces that blocks above SplitHeight are no longer on
// the best chain. NewBlocks is the replacement branch in ascending
// order; it may be empty when the client only knows the rollback so far.
type ReorgEvent struct {
	SplitHeight int64
	NewBlocks   []*BlockEvent
}

// Event is exactly one of Block or Reorg.
type Event struct {
	Block *BlockEvent
	Reorg *ReorgEvent
}

// NetworkClient is the follower's window onto the peer network. It is
// an external collaborator: implementations speak the p2p protocol (or
// a trusted node's interface) and replay every block after the
// follower's persisted best block on subscription.
type NetworkClient interface {
	// Events delivers block and reorg notifications in order. The
	// follower never runs settlement logic on the delivering thread.
	Events() <-chan Event

	// BestHeight is the network tip, used to decide when the follower
	// has caught up.
	BestHeight() (int64, error)

	// Broadcast submits a signed transaction to the network.
	Broadcast(tx *wire.MsgTx) error
}
