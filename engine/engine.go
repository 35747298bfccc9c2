/*
Package engine is the settlement core: it consumes host blocks through
the matcher, pays eligible redemptions out in coin, and issues token
transfers for confirmed coin deposits. Every broadcast is gated on the
engine state; any backend failure suspends settlement until an operator
resumes it.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/tokex-io/bridge-go/btcman"
	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/hostledger"
	"github.com/tokex-io/bridge-go/matcher"
	"github.com/tokex-io/bridge-go/store"
)

type Config struct {
	CurrencyId        uint64
	BridgeAccount     ethcommon.Address
	HostConfirmations int64  // blocks before a redemption is paid out
	CoinConfirmations int64  // blocks before a deposit is issued for
	HostFeeFloor      uint64 // native balance below this cannot fund transfer fees
}

type Engine struct {
	st      *store.Store
	backend btcman.Backend
	host    hostledger.Client
	match   *matcher.Matcher
	state   *State
	cfg     Config

	queue *blockQueue
	kick  chan struct{} // wakes the loop after an admin resume

	mu         sync.Mutex
	hostHeight int64
}

func New(st *store.Store, backend btcman.Backend, host hostledger.Client, match *matcher.Matcher, cfg Config) *Engine {
	return &Engine{
		st:      st,
		backend: backend,
		host:    host,
		match:   match,
		state:   NewState(),
		cfg:     cfg,
		queue:   newBlockQueue(),
		kick:    make(chan struct{}, 1),
	}
}

func (e *Engine) State() *State { return e.state }

func (e *Engine) HostHeight() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hostHeight
}

// Resume lifts a suspension and wakes the loop so the accumulated
// backlog settles exactly once.
func (e *Engine) Resume() {
	e.state.Resume()
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Start launches the listener and processing threads. The listener
// enqueues host blocks immediately; processing waits for the coin
// backend's one-shot readiness gate.
func (e *Engine) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.listen(ctx)
	}()
	go func() {
		defer wg.Done()
		e.run(ctx)
	}()
}

// listen feeds the unbounded queue from the host block stream. It
// keeps recording while the engine is suspended.
func (e *Engine) listen(ctx context.Context) {
	defer e.queue.close()
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-e.host.Blocks():
			if !ok {
				return
			}
			e.queue.push(b)
		}
	}
}

func (e *Engine) run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-e.backend.Ready():
	}
	logger.Info("coin backend ready, settlement engine started")

	// the startup pass must see the real host height, or a backlog
	// left by a crash waits for the next live block
	if h, err := e.host.Height(); err == nil {
		e.mu.Lock()
		if h > e.hostHeight {
			e.hostHeight = h
		}
		e.mu.Unlock()
	} else {
		logger.WithField("err", err).Warn("cannot query host height at startup")
	}

	// payouts that may have broadcast before a crash settle first
	e.payoutPass()

	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-e.queue.out:
			if !ok {
				return
			}
			e.onHostBlock(b)
		case tip, ok := <-e.backend.TipChanges():
			if !ok {
				return
			}
			e.issuancePass(tip)
		case <-e.kick:
			e.payoutPass()
			if tip, err := e.backend.ChainHeight(); err == nil {
				e.issuancePass(tip)
			}
		}
	}
}

// onHostBlock records the block's redemptions (even while suspended)
// and then tries to settle whatever became eligible.
func (e *Engine) onHostBlock(b *hostledger.Block) {
	if err := e.match.OnBlock(b); err != nil {
		logger.WithFields(logger.Fields{"height": b.Height, "err": err}).Error("cannot match host block")
	}
	e.mu.Lock()
	if b.Height > e.hostHeight {
		e.hostHeight = b.Height
	}
	e.mu.Unlock()
	e.payoutPass()
}

// payoutPass settles every redemption old enough on the host chain,
// oldest first. The first backend failure suspends the engine and ends
// the pass.
func (e *Engine) payoutPass() {
	if !e.state.Running() {
		return
	}
	maxHeight := e.HostHeight() - e.cfg.HostConfirmations
	reds, err := e.st.EligibleRedemptions(maxHeight)
	if err != nil {
		e.state.Suspend(fmt.Sprintf("cannot select redemptions: %v", err))
		return
	}
	for _, r := range reds {
		if err := e.settleRedemption(r); err != nil {
			e.state.Suspend(fmt.Sprintf("payout of %s failed: %v",
				common.Shorten(r.HostTxId.String(), 8), err))
			return
		}
	}
}

// settleRedemption pays one redemption out. The backend is asked first
// whether the payout already happened: an unexchanged row does not
// prove it didn't, because broadcast and persist are not atomic for
// the RPC strategy.
func (e *Engine) settleRedemption(r *store.Redemption) error {
	coinTxId, found, err := e.backend.FindPayment(r.HostTxId, r.Destination, r.CoinAmount)
	if err != nil {
		return fmt.Errorf("reconciliation query failed: %w", err)
	}
	if !found {
		coinTxId, err = e.backend.Pay(r.HostTxId, r.Destination, r.CoinAmount)
		if errors.Is(err, store.ErrAlreadyExchanged) {
			return nil
		}
		if err != nil {
			return err
		}
	} else {
		logger.WithFields(logger.Fields{
			"hostTx": common.Shorten(r.HostTxId.String(), 8),
			"coinTx": common.Shorten(coinTxId, 8),
		}).Warn("payout already visible on coin chain, reconciled without re-sending")
	}

	err = e.st.MarkRedemptionExchanged(r.HostTxId, coinTxId)
	if errors.Is(err, store.ErrAlreadyExchanged) {
		// the follower strategy marks inside its payout transaction
		return nil
	}
	return err
}

// issuancePass broadcasts token transfers for every coin deposit with
// enough confirmations, in deterministic order. An insufficient bridge
// balance suspends and stops the pass: later deposits must not jump
// the queue.
func (e *Engine) issuancePass(tip int64) {
	if !e.state.Running() {
		return
	}
	pays, err := e.st.EligiblePayments(tip - e.cfg.CoinConfirmations)
	if err != nil {
		e.state.Suspend(fmt.Sprintf("cannot select payments: %v", err))
		return
	}
	if len(pays) == 0 {
		return
	}

	_, nativeBalance, err := e.host.Balance(e.cfg.BridgeAccount)
	if err != nil {
		e.state.Suspend(fmt.Sprintf("cannot query host balance: %v", err))
		return
	}
	currencyBalance, err := e.host.CurrencyBalance(e.cfg.BridgeAccount, e.cfg.CurrencyId)
	if err != nil {
		e.state.Suspend(fmt.Sprintf("cannot query currency balance: %v", err))
		return
	}

	feeFloor := e.cfg.HostFeeFloor
	if feeFloor == 0 {
		feeFloor = 1
	}
	for _, p := range pays {
		if nativeBalance < feeFloor {
			e.state.Suspend(fmt.Sprintf(
				"host balance %d below fee floor %d, cannot fund transfer fees",
				nativeBalance, feeFloor))
			return
		}
		if currencyBalance < p.TokenAmount {
			e.state.Suspend(fmt.Sprintf("insufficient currency balance: have %d, need %d for %s",
				currencyBalance, p.TokenAmount, common.Shorten(p.CoinTxId, 8)))
			return
		}
		hostTxId, err := e.host.BroadcastTransfer(p.HostAccountId, e.cfg.CurrencyId, p.TokenAmount)
		if err != nil {
			e.state.Suspend(fmt.Sprintf("issuance for %s failed: %v",
				common.Shorten(p.CoinTxId, 8), err))
			return
		}
		if err := e.st.MarkPaymentExchanged(p.CoinTxId, p.Index, hostTxId); err != nil {
			e.state.Suspend(fmt.Sprintf("cannot persist issuance of %s: %v",
				common.Shorten(p.CoinTxId, 8), err))
			return
		}
		currencyBalance -= p.TokenAmount
		logger.WithFields(logger.Fields{
			"coinTx": common.Shorten(p.CoinTxId, 8),
			"hostTx": common.Shorten(hostTxId.String(), 8),
			"units":  p.TokenAmount,
		}).Info("deposit issued")
	}
}
