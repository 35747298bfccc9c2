/*
Package follower implements the embedded coin backend: a lightweight
wallet that follows the chain through a NetworkClient, recognizes
outputs paying its derived scripts, and settles payouts from the UTXO
set in the durable store.

All wallet state transitions happen under one lock and, where they span
records, inside one store transaction. Script matching is a map lookup
keyed by the raw locking script, so scanning a block costs the same no
matter how many addresses are tracked.
*/
package follower

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/tokex-io/bridge-go/btcman"
	"github.com/tokex-io/bridge-go/btcman/keychain"
	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/store"
)

type Config struct {
	ChainParams   *chaincfg.Params
	FeeRate       int64 // satoshi per vbyte
	DustThreshold int64 // change below this folds into the fee
	HeaderWindow  int64 // how many headers to retain for rollback
	Passphrase    string
	Rate          decimal.Decimal // coin per whole token
	TokenDecimals int32
}

type watchEntry struct {
	keyPath string
	change  bool
	address string
}

type Follower struct {
	st  *store.Store
	net NetworkClient
	kc  *keychain.Keychain
	cfg Config

	// mu is the wallet lock: it guards the watch set, the cached tip
	// and serializes block application against payout building.
	mu     sync.Mutex
	watch  map[string]watchEntry // raw pkScript -> entry
	height int64

	ready     chan struct{}
	readyOnce sync.Once
	tipCh     chan int64
}

var _ btcman.Backend = (*Follower)(nil)

// New opens (or initializes) the wallet. A missing seed is generated
// and stored encrypted; an existing one is decrypted with the
// configured passphrase.
func New(st *store.Store, net NetworkClient, cfg Config) (*Follower, error) {
	seed, err := loadOrCreateSeed(st, cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	kc, err := keychain.New(seed, cfg.ChainParams)
	if err != nil {
		return nil, err
	}

	f := &Follower{
		st:    st,
		net:   net,
		kc:    kc,
		cfg:   cfg,
		watch: make(map[string]watchEntry),
		ready: make(chan struct{}),
		tipCh: make(chan int64, 8),
	}
	if err := f.rebuildWatchSet(); err != nil {
		return nil, err
	}
	_, f.height, err = st.BestBlock()
	if err != nil {
		return nil, err
	}
	return f, nil
}

func loadOrCreateSeed(st *store.Store, passphrase string) ([]byte, error) {
	blob, err := st.Seed()
	if err == store.ErrSeedMissing {
		seed, err := keychain.GenerateSeed()
		if err != nil {
			return nil, err
		}
		blob, err := keychain.EncryptSeed(seed, passphrase)
		if err != nil {
			return nil, err
		}
		if err := st.SetSeed(blob); err != nil {
			return nil, err
		}
		logger.Info("generated new wallet seed")
		return seed, nil
	}
	if err != nil {
		return nil, err
	}
	return keychain.DecryptSeed(blob, passphrase)
}

// rebuildWatchSet re-derives every key handed out so far, external and
// change, so restart resumes watching the same scripts.
func (f *Follower) rebuildWatchSet() error {
	keys, change, err := f.st.Counters()
	if err != nil {
		return err
	}
	for i := uint32(0); i < keys; i++ {
		key, err := f.kc.External(i)
		if err != nil {
			return err
		}
		f.watch[string(key.PkScript)] = watchEntry{key.Path, false, key.Address.EncodeAddress()}
	}
	for i := uint32(0); i < change; i++ {
		key, err := f.kc.Change(i)
		if err != nil {
			return err
		}
		f.watch[string(key.PkScript)] = watchEntry{key.Path, true, key.Address.EncodeAddress()}
	}
	logger.WithFields(logger.Fields{"external": keys, "change": change}).Debug("watch set rebuilt")
	return nil
}

// Start begins consuming network events. The follower reports ready
// once it has processed up to the network tip observed at startup.
func (f *Follower) Start(ctx context.Context) error {
	target, err := f.net.BestHeight()
	if err != nil {
		return fmt.Errorf("querying network tip: %w", err)
	}
	f.maybeReady(target)
	go f.loop(ctx, target)
	return nil
}

func (f *Follower) loop(ctx context.Context, target int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.net.Events():
			if !ok {
				return
			}
			switch {
			case ev.Block != nil:
				if err := f.onBlock(ev.Block); err != nil {
					logger.WithFields(logger.Fields{
						"height": ev.Block.Height, "err": err,
					}).Error("cannot apply block")
					continue
				}
				f.maybeReady(target)
			case ev.Reorg != nil:
				if err := f.OnReorg(ev.Reorg); err != nil {
					logger.WithFields(logger.Fields{
						"split": ev.Reorg.SplitHeight, "err": err,
					}).Error("cannot apply reorg, state unchanged")
					continue
				}
				f.maybeReady(target)
			}
		}
	}
}

func (f *Follower) maybeReady(target int64) {
	f.mu.Lock()
	caughtUp := f.height >= target
	f.mu.Unlock()
	if caughtUp {
		f.readyOnce.Do(func() { close(f.ready) })
	}
}

func (f *Follower) isReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

func (f *Follower) Ready() <-chan struct{}   { return f.ready }
func (f *Follower) TipChanges() <-chan int64 { return f.tipCh }

func (f *Follower) ChainHeight() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *Follower) Balance() (int64, error) {
	return f.st.Balance()
}

// NewDepositAddress derives the next external key and starts watching
// its script immediately, before the address leaves the process.
func (f *Follower) NewDepositAddress() (string, uint32, error) {
	if !f.isReady() {
		return "", 0, btcman.ErrNotReady
	}
	idx, err := f.st.NextKeyIndex()
	if err != nil {
		return "", 0, err
	}
	key, err := f.kc.External(idx)
	if err != nil {
		return "", 0, err
	}
	f.mu.Lock()
	f.watch[string(key.PkScript)] = watchEntry{key.Path, false, key.Address.EncodeAddress()}
	f.mu.Unlock()
	return key.Address.EncodeAddress(), idx, nil
}

// FindPayment always reports not-found: the follower marks redemptions
// exchanged in the same database transaction that broadcasts, so an
// unexchanged row means the payout genuinely did not happen.
func (f *Follower) FindPayment(ethcommon.Hash, string, int64) (string, bool, error) {
	return "", false, nil
}

// BlockReceived and TransactionReceived are node-notification hooks for
// the RPC strategy; the follower hears about blocks from its network
// client.
func (f *Follower) BlockReceived(string) error       { return btcman.ErrUnsupported }
func (f *Follower) TransactionReceived(string) error { return btcman.ErrUnsupported }

func (f *Follower) Close() {}

// scriptHit is one matched output, resolved before the store
// transaction opens so no reads race the write lock.
type scriptHit struct {
	coinTxId string
	index    uint32
	amount   int64
	pkScript []byte
	entry    watchEntry
	hostId   ethcommon.Address
	deposit  bool // watched external address with a known account
}

// matchOutputs scans a block's outputs against the watch set. Caller
// holds the wallet lock.
func (f *Follower) matchOutputs(ev *BlockEvent) ([]scriptHit, error) {
	var hits []scriptHit
	for _, tx := range ev.Txs {
		txid := tx.TxHash().String()
		for idx, out := range tx.TxOut {
			entry, ok := f.watch[string(out.PkScript)]
			if !ok {
				continue
			}
			hit := scriptHit{
				coinTxId: txid,
				index:    uint32(idx),
				amount:   out.Value,
				pkScript: out.PkScript,
				entry:    entry,
			}
			if !entry.change {
				acct, ok, err := f.st.GetAccountByCoinAddress(entry.address)
				if err != nil {
					return nil, err
				}
				if ok {
					hit.hostId = acct.HostAccountId
					hit.deposit = true
				}
			}
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

// onBlock connects one block: header bookkeeping, recognized outputs
// and the best-block pointer move in a single store transaction.
func (f *Follower) onBlock(ev *BlockEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	bestHash, bestHeight, err := f.st.BestBlock()
	if err != nil {
		return err
	}
	if bestHash != "" {
		if ev.Header.PrevBlock.String() != bestHash || ev.Height != bestHeight+1 {
			return fmt.Errorf("block %d does not extend best block %s at %d",
				ev.Height, common.Shorten(bestHash, 8), bestHeight)
		}
	}

	work, err := f.cumulativeWork(bestHash, ev.Header.Bits)
	if err != nil {
		return err
	}
	hits, err := f.matchOutputs(ev)
	if err != nil {
		return err
	}

	blockHash := ev.Header.BlockHash().String()
	err = f.st.WithTx(func(t *store.Tx) error {
		if err := t.PutHeader(&store.Header{
			Hash:     blockHash,
			PrevHash: ev.Header.PrevBlock.String(),
			Height:   ev.Height,
			Work:     work.Text(16),
		}); err != nil {
			return err
		}
		for _, hit := range hits {
			if err := f.applyHit(t, hit, blockHash, ev.Height); err != nil {
				return err
			}
		}
		return t.SetBestBlock(blockHash, ev.Height)
	})
	if err != nil {
		return err
	}

	f.height = ev.Height
	if f.cfg.HeaderWindow > 0 && ev.Height > f.cfg.HeaderWindow {
		if err := f.st.PruneHeadersBelow(ev.Height - f.cfg.HeaderWindow); err != nil {
			logger.WithField("err", err).Warn("cannot prune header window")
		}
	}
	f.pushTip(ev.Height)
	return nil
}

// applyHit records one recognized output, idempotently: re-delivered
// outputs confirm or reactivate the existing rows instead of
// double-crediting.
func (f *Follower) applyHit(t *store.Tx, hit scriptHit, blockHash string, height int64) error {
	inserted, err := t.InsertUTXO(&store.UTXO{
		CoinTxId:    hit.coinTxId,
		Index:       hit.index,
		Amount:      hit.amount,
		BlockHeight: height,
		KeyPath:     hit.entry.keyPath,
		PkScript:    hit.pkScript,
		Change:      hit.entry.change,
	})
	if err != nil {
		return err
	}
	if !inserted {
		if hit.entry.change {
			if err := t.ConfirmUTXO(hit.coinTxId, hit.index, height); err != nil {
				return err
			}
		} else if _, err := t.ReactivateUTXO(hit.coinTxId, hit.index, height); err != nil {
			return err
		}
	}
	if !hit.deposit {
		return nil
	}

	tokenAmount := common.SatoshiToTokens(hit.amount, f.cfg.TokenDecimals, f.cfg.Rate)
	inserted, err = t.InsertPayment(&store.Payment{
		CoinTxId:      hit.coinTxId,
		Index:         hit.index,
		CoinBlockId:   blockHash,
		CoinAddress:   hit.entry.address,
		HostAccountId: hit.hostId,
		CoinAmount:    hit.amount,
		TokenAmount:   tokenAmount,
		BlockHeight:   height,
	})
	if err != nil {
		return err
	}
	if !inserted {
		if _, err := t.ReactivatePayment(hit.coinTxId, hit.index, blockHash, height); err != nil {
			return err
		}
	} else {
		logger.WithFields(logger.Fields{
			"tx":      common.Shorten(hit.coinTxId, 8),
			"address": hit.entry.address,
			"satoshi": hit.amount,
			"height":  height,
		}).Info("deposit recorded")
	}
	return nil
}

func (f *Follower) cumulativeWork(prevHash string, bits uint32) (*big.Int, error) {
	work := blockchain.CalcWork(bits)
	if prevHash == "" {
		return work, nil
	}
	prev, ok, err := f.st.GetHeader(prevHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		// previous header already pruned out of the window
		return work, nil
	}
	prevWork, ok := new(big.Int).SetString(prev.Work, 16)
	if !ok {
		return nil, fmt.Errorf("corrupt work value for header %s", common.Shorten(prevHash, 8))
	}
	return work.Add(work, prevWork), nil
}

// pushTip never blocks the event loop: when the engine lags, only the
// newest tip matters.
func (f *Follower) pushTip(height int64) {
	for {
		select {
		case f.tipCh <- height:
			return
		default:
			select {
			case <-f.tipCh:
			default:
			}
		}
	}
}
