package follower

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	logger "github.com/sirupsen/logrus"

	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/store"
)

// OnReorg rewinds the wallet to the split height and replays the new
// branch, all in one store transaction: either the whole reorg applies
// or the pre-reorg snapshot survives untouched.
func (f *Follower) OnReorg(ev *ReorgEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldest, haveHeaders, err := f.st.OldestRetainedHeight()
	if err != nil {
		return err
	}
	if haveHeaders && ev.SplitHeight < oldest {
		return fmt.Errorf("reorg split %d below retained window (oldest %d)", ev.SplitHeight, oldest)
	}

	splitHash := ""
	if haveHeaders {
		split, ok, err := f.st.GetHeaderAtHeight(ev.SplitHeight)
		if err != nil {
			return err
		}
		if ok {
			splitHash = split.Hash
		}
	}

	// resolve everything that needs store reads before the write
	// transaction opens
	works, err := f.branchWork(splitHash, ev.NewBlocks)
	if err != nil {
		return err
	}
	hits := make([][]scriptHit, len(ev.NewBlocks))
	for i, b := range ev.NewBlocks {
		if b.Height != ev.SplitHeight+int64(i)+1 {
			return fmt.Errorf("new branch not contiguous: block %d at position %d after split %d",
				b.Height, i, ev.SplitHeight)
		}
		if hits[i], err = f.matchOutputs(b); err != nil {
			return err
		}
	}

	bestHash, bestHeight := splitHash, ev.SplitHeight
	err = f.st.WithTx(func(t *store.Tx) error {
		deactivated, err := t.DeactivateUTXOsAbove(ev.SplitHeight)
		if err != nil {
			return err
		}
		if err := t.DeactivatePaymentsAbove(ev.SplitHeight); err != nil {
			return err
		}
		if err := t.DeleteHeadersAbove(ev.SplitHeight); err != nil {
			return err
		}
		logger.WithFields(logger.Fields{
			"split": ev.SplitHeight, "utxos": deactivated, "newBlocks": len(ev.NewBlocks),
		}).Warn("chain reorg, rewinding")

		for i, b := range ev.NewBlocks {
			blockHash := b.Header.BlockHash().String()
			if err := t.PutHeader(&store.Header{
				Hash:     blockHash,
				PrevHash: b.Header.PrevBlock.String(),
				Height:   b.Height,
				Work:     works[i].Text(16),
			}); err != nil {
				return err
			}
			for _, hit := range hits[i] {
				if err := f.replayHit(t, hit, blockHash, b.Height); err != nil {
					return err
				}
			}
			bestHash, bestHeight = blockHash, b.Height
		}
		return t.SetBestBlock(bestHash, bestHeight)
	})
	if err != nil {
		return err
	}

	f.height = bestHeight
	f.pushTip(bestHeight)
	return nil
}

// replayHit re-binds a deactivated record to its new-branch block, or
// records it fresh when the transaction only exists on the new branch.
func (f *Follower) replayHit(t *store.Tx, hit scriptHit, blockHash string, height int64) error {
	reactivated, err := t.ReactivateUTXO(hit.coinTxId, hit.index, height)
	if err != nil {
		return err
	}
	if !reactivated {
		if _, err := t.InsertUTXO(&store.UTXO{
			CoinTxId:    hit.coinTxId,
			Index:       hit.index,
			Amount:      hit.amount,
			BlockHeight: height,
			KeyPath:     hit.entry.keyPath,
			PkScript:    hit.pkScript,
			Change:      hit.entry.change,
		}); err != nil {
			return err
		}
	}
	if !hit.deposit {
		return nil
	}
	rebound, err := t.ReactivatePayment(hit.coinTxId, hit.index, blockHash, height)
	if err != nil {
		return err
	}
	if !rebound {
		_, err = t.InsertPayment(&store.Payment{
			CoinTxId:      hit.coinTxId,
			Index:         hit.index,
			CoinBlockId:   blockHash,
			CoinAddress:   hit.entry.address,
			HostAccountId: hit.hostId,
			CoinAmount:    hit.amount,
			TokenAmount:   common.SatoshiToTokens(hit.amount, f.cfg.TokenDecimals, f.cfg.Rate),
			BlockHeight:   height,
		})
	}
	return err
}

// branchWork computes cumulative work for each new-branch header,
// chained off the split header's stored work.
func (f *Follower) branchWork(splitHash string, blocks []*BlockEvent) ([]*big.Int, error) {
	prev := new(big.Int)
	if splitHash != "" {
		h, ok, err := f.st.GetHeader(splitHash)
		if err != nil {
			return nil, err
		}
		if ok {
			if _, valid := prev.SetString(h.Work, 16); !valid {
				return nil, fmt.Errorf("corrupt work value for header %s", common.Shorten(splitHash, 8))
			}
		}
	}
	works := make([]*big.Int, len(blocks))
	for i, b := range blocks {
		prev = new(big.Int).Add(prev, blockchain.CalcWork(b.Header.Bits))
		works[i] = prev
	}
	return works, nil
}

// RollbackChain is the admin escape hatch: rewind to height as if a
// reorg with no replacement branch had been announced. The network
// client delivers the canonical blocks again afterwards. Deliberately
// not gated on readiness: a wallet stuck on a stale branch never
// becomes ready, and this is the way out.
func (f *Follower) RollbackChain(height int64) error {
	return f.OnReorg(&ReorgEvent{SplitHeight: height})
}
