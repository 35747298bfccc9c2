package follower

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"
)

// RPCNetwork feeds the follower from an untrusted full node over RPC.
// The node is only a block source and broadcast relay; all validation
// and wallet state stay on this side.
type RPCNetwork struct {
	node     *rpcclient.Client
	events   chan Event
	interval time.Duration
	window   int64

	known     map[int64]chainhash.Hash // recently delivered block hashes
	tipHeight int64
}

type RPCNetworkConfig struct {
	Host         string // ip:port of the node
	User         string
	Pass         string
	PollInterval time.Duration
	Window       int64 // retained hashes bounding reorg detection depth
}

func NewRPCNetwork(cfg RPCNetworkConfig) (*RPCNetwork, error) {
	node, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Window == 0 {
		cfg.Window = 1000
	}
	return &RPCNetwork{
		node:     node,
		events:   make(chan Event, 64),
		interval: cfg.PollInterval,
		window:   cfg.Window,
		known:    make(map[int64]chainhash.Hash),
	}, nil
}

func (n *RPCNetwork) Events() <-chan Event { return n.events }

// Seed records a block hash the wallet already holds, so that a branch
// switch that happened while the process was down is still detected on
// the first poll. Call before Start, once per retained header.
func (n *RPCNetwork) Seed(height int64, hash chainhash.Hash) {
	n.known[height] = hash
}

func (n *RPCNetwork) BestHeight() (int64, error) {
	return n.node.GetBlockCount()
}

func (n *RPCNetwork) Broadcast(tx *wire.MsgTx) error {
	_, err := n.node.SendRawTransaction(tx, false)
	return err
}

func (n *RPCNetwork) Close() {
	n.node.Shutdown()
}

// Start begins polling for blocks at fromHeight. fromHeight -1 starts
// at the node's current tip.
func (n *RPCNetwork) Start(ctx context.Context, fromHeight int64) error {
	if fromHeight < 0 {
		best, err := n.node.GetBlockCount()
		if err != nil {
			return err
		}
		fromHeight = best
	}
	n.tipHeight = fromHeight - 1

	go func() {
		defer close(n.events)
		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := n.pollOnce(ctx); err != nil {
					logger.WithField("error", err).Warn("node poll failed")
				}
			}
		}
	}()
	return nil
}

func (n *RPCNetwork) pollOnce(ctx context.Context) error {
	best, err := n.node.GetBlockCount()
	if err != nil {
		return err
	}
	split, err := n.findSplit(best)
	if err != nil {
		return err
	}

	if split < n.tipHeight {
		// the node switched branches; replay everything above the split
		branch := make([]*BlockEvent, 0, best-split)
		for h := split + 1; h <= best; h++ {
			b, err := n.blockAt(h)
			if err != nil {
				return err
			}
			branch = append(branch, b)
		}
		for h := range n.known {
			if h > split {
				delete(n.known, h)
			}
		}
		for _, b := range branch {
			n.known[b.Height] = b.Header.BlockHash()
		}
		n.tipHeight = best
		logger.WithFields(logger.Fields{
			"splitHeight": split,
			"newTip":      best,
		}).Warn("node switched branches")
		return n.push(ctx, Event{Reorg: &ReorgEvent{SplitHeight: split, NewBlocks: branch}})
	}

	for h := n.tipHeight + 1; h <= best; h++ {
		b, err := n.blockAt(h)
		if err != nil {
			return err
		}
		if err := n.push(ctx, Event{Block: b}); err != nil {
			return err
		}
		n.known[h] = b.Header.BlockHash()
		n.tipHeight = h
	}
	n.prune()
	return nil
}

// findSplit returns the highest height at or below the tip whose hash
// still matches the node's chain.
func (n *RPCNetwork) findSplit(best int64) (int64, error) {
	top := n.tipHeight
	if best < top {
		top = best
	}
	for h := top; h > 0; h-- {
		want, ok := n.known[h]
		if !ok {
			// beyond the retained window, assume unchanged
			return h, nil
		}
		hash, err := n.node.GetBlockHash(h)
		if err != nil {
			return 0, err
		}
		if *hash == want {
			return h, nil
		}
	}
	return 0, nil
}

func (n *RPCNetwork) blockAt(height int64) (*BlockEvent, error) {
	hash, err := n.node.GetBlockHash(height)
	if err != nil {
		return nil, err
	}
	block, err := n.node.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	return &BlockEvent{Header: block.Header, Height: height, Txs: block.Transactions}, nil
}

func (n *RPCNetwork) push(ctx context.Context, ev Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case n.events <- ev:
		return nil
	}
}

func (n *RPCNetwork) prune() {
	for h := range n.known {
		if h < n.tipHeight-n.window {
			delete(n.known, h)
		}
	}
}
