package follower

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// regtest difficulty, every simulated header carries the same work
const simulatedBits = 0x207fffff

// SimulatedNetwork is an in-memory NetworkClient for tests. It mines
// blocks on demand, can fork its own chain to announce reorgs, and
// records every broadcast transaction.
type SimulatedNetwork struct {
	mu    sync.Mutex
	event chan Event
	chain []*BlockEvent
	nonce uint32

	Broadcasts   []*wire.MsgTx
	BroadcastErr error // injected failure for the next Broadcast calls
}

var _ NetworkClient = (*SimulatedNetwork)(nil)

func NewSimulatedNetwork() *SimulatedNetwork {
	return &SimulatedNetwork{event: make(chan Event, 64)}
}

func (n *SimulatedNetwork) Events() <-chan Event { return n.event }

func (n *SimulatedNetwork) BestHeight() (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return int64(len(n.chain)), nil
}

func (n *SimulatedNetwork) Broadcast(tx *wire.MsgTx) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.BroadcastErr != nil {
		return n.BroadcastErr
	}
	n.Broadcasts = append(n.Broadcasts, tx)
	return nil
}

func (n *SimulatedNetwork) newHeader(prev chainhash.Hash) wire.BlockHeader {
	n.nonce++
	return wire.BlockHeader{
		Version:   1,
		PrevBlock: prev,
		Bits:      simulatedBits,
		Nonce:     n.nonce,
		Timestamp: time.Unix(1700000000+int64(n.nonce), 0),
	}
}

func (n *SimulatedNetwork) tipHash() chainhash.Hash {
	if len(n.chain) == 0 {
		return chainhash.Hash{}
	}
	return n.chain[len(n.chain)-1].Header.BlockHash()
}

// MineBlock extends the chain with the given transactions and delivers
// the block event.
func (n *SimulatedNetwork) MineBlock(txs ...*wire.MsgTx) *BlockEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	b := &BlockEvent{
		Header: n.newHeader(n.tipHash()),
		Height: int64(len(n.chain)) + 1,
		Txs:    txs,
	}
	n.chain = append(n.chain, b)
	n.event <- Event{Block: b}
	return b
}

// ReorgTo forks the chain at splitHeight, mines one new block per
// element of branch on top, and delivers the reorg event.
func (n *SimulatedNetwork) ReorgTo(splitHeight int64, branch ...[]*wire.MsgTx) []*BlockEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.chain = n.chain[:splitHeight]
	var newBlocks []*BlockEvent
	for _, txs := range branch {
		b := &BlockEvent{
			Header: n.newHeader(n.tipHash()),
			Height: int64(len(n.chain)) + 1,
			Txs:    txs,
		}
		n.chain = append(n.chain, b)
		newBlocks = append(newBlocks, b)
	}
	n.event <- Event{Reorg: &ReorgEvent{SplitHeight: splitHeight, NewBlocks: newBlocks}}
	return newBlocks
}

// FundingTx builds a transaction paying amount to pkScript, with a
// random-ish outpoint so every call yields a distinct txid.
func (n *SimulatedNetwork) FundingTx(amount int64, pkScript []byte) *wire.MsgTx {
	n.mu.Lock()
	n.nonce++
	nonce := n.nonce
	n.mu.Unlock()

	tx := wire.NewMsgTx(wire.TxVersion)
	var prev chainhash.Hash
	prev[0] = byte(nonce)
	prev[1] = byte(nonce >> 8)
	prev[31] = 0x7f
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, nonce), nil, nil))
	tx.AddTxOut(wire.NewTxOut(amount, pkScript))
	return tx
}
