/*
Package rpc is the full-node coin backend: a bitcoind-compatible wallet
drives key management, transaction building and signing, reached over
JSON-RPC in HTTP POST mode. The bridge only records what the node
reports, fed by -blocknotify/-walletnotify hooks through the
BlockReceived/TransactionReceived operations.

Unlike the embedded follower, broadcast and persist are not atomic
here; the engine reconciles through FindPayment before any payout
retry.
*/
package rpc

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/tokex-io/bridge-go/btcman"
	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/store"
)

// fixed size estimate for an outbound payment; the node does the real
// coin selection, this only guards the balance check
const estimatedTxVBytes = 250

// how long the wallet stays unlocked around one send
const unlockSeconds = 10

// how far back FindPayment looks in the node's transaction list
const findPaymentWindow = 1000

type Config struct {
	Host             string // ip:port of the node
	User             string
	Pass             string
	WalletPassphrase string // empty = wallet is not encrypted
	FeeRate          int64  // satoshi per vbyte
	ChainParams      *chaincfg.Params
	Rate             decimal.Decimal
	TokenDecimals    int32
}

type Client struct {
	st   *store.Store
	node *rpcclient.Client
	cfg  Config

	ready     chan struct{}
	readyOnce func()
	tipCh     chan int64
}

var _ btcman.Backend = (*Client)(nil)

func New(st *store.Store, cfg Config) (*Client, error) {
	node, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true, // bitcoind only supports HTTP POST
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		st:    st,
		node:  node,
		cfg:   cfg,
		ready: make(chan struct{}),
		tipCh: make(chan int64, 8),
	}
	ready := c.ready
	var done bool
	c.readyOnce = func() {
		if !done {
			done = true
			close(ready)
		}
	}
	return c, nil
}

// Start verifies node connectivity, pins the node's fee rate and
// opens the gate. The node keeps its own chain state, so there is no
// catch-up phase.
func (c *Client) Start(ctx context.Context) error {
	height, err := c.node.GetBlockCount()
	if err != nil {
		return fmt.Errorf("cannot reach coin node: %w", err)
	}
	// SetTxFee takes coin per kilobyte
	if err := c.node.SetTxFee(btcutil.Amount(c.cfg.FeeRate * 1000)); err != nil {
		return fmt.Errorf("cannot set node fee rate: %w", err)
	}
	logger.WithField("height", height).Info("coin node connected")
	c.readyOnce()
	c.pushTip(height)
	return nil
}

func (c *Client) Ready() <-chan struct{}   { return c.ready }
func (c *Client) TipChanges() <-chan int64 { return c.tipCh }

func (c *Client) isReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

func (c *Client) ChainHeight() (int64, error) {
	return c.node.GetBlockCount()
}

func (c *Client) Balance() (int64, error) {
	bal, err := c.node.GetBalance("*")
	if err != nil {
		return 0, err
	}
	return int64(bal), nil
}

// NewDepositAddress asks the node's wallet for a fresh address. The
// derivation index is always 0: key management lives in the node.
func (c *Client) NewDepositAddress() (string, uint32, error) {
	if !c.isReady() {
		return "", 0, btcman.ErrNotReady
	}
	addr, err := c.node.GetNewAddress("")
	if err != nil {
		return "", 0, err
	}
	return addr.EncodeAddress(), 0, nil
}

// Pay sends amount satoshi through the node's wallet. The caller marks
// the redemption exchanged afterwards; hostTxId only feeds the log.
func (c *Client) Pay(hostTxId ethcommon.Hash, destination string, amount int64) (string, error) {
	if !c.isReady() {
		return "", btcman.ErrNotReady
	}
	addr, err := c.decodeAddress(destination)
	if err != nil {
		return "", err
	}

	fee := c.cfg.FeeRate * estimatedTxVBytes
	bal, err := c.Balance()
	if err != nil {
		return "", err
	}
	if bal < amount+fee {
		return "", fmt.Errorf("%w: have %d, need %d + %d fee", btcman.ErrInsufficientFunds, bal, amount, fee)
	}

	unlock, err := c.unlockWallet()
	if err != nil {
		return "", err
	}
	defer unlock()

	// redemption payouts carry the host tx id in the wallet comment so
	// FindPayment can tell them apart after a crash
	var hash *chainhash.Hash
	if hostTxId == (ethcommon.Hash{}) {
		hash, err = c.node.SendToAddress(addr, btcutil.Amount(amount))
	} else {
		hash, err = c.node.SendToAddressComment(addr, btcutil.Amount(amount), paymentTag(hostTxId), "")
	}
	if err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}
	logger.WithFields(logger.Fields{
		"tx":      common.Shorten(hash.String(), 8),
		"to":      destination,
		"satoshi": amount,
		"hostTx":  common.Shorten(hostTxId.String(), 8),
	}).Info("payout sent via node")
	return hash.String(), nil
}

// Sweep sends the full balance minus the estimated fee.
func (c *Client) Sweep(destination string) (string, int64, error) {
	if !c.isReady() {
		return "", 0, btcman.ErrNotReady
	}
	bal, err := c.Balance()
	if err != nil {
		return "", 0, err
	}
	amount := bal - c.cfg.FeeRate*estimatedTxVBytes
	if amount <= 0 {
		return "", 0, btcman.ErrInsufficientFunds
	}
	txid, err := c.Pay(ethcommon.Hash{}, destination, amount)
	if err != nil {
		return "", 0, err
	}
	return txid, amount, nil
}

// FindPayment scans the node's recent transaction list for the send
// tagged with hostTxId. This is the reconciliation source of truth
// after a broadcast-succeeded/persist-failed crash. Destination and
// amount must match too, as a guard against a mangled wallet comment
// binding the wrong send.
func (c *Client) FindPayment(hostTxId ethcommon.Hash, destination string, amount int64) (string, bool, error) {
	if hostTxId == (ethcommon.Hash{}) {
		return "", false, nil
	}
	items, err := c.node.ListTransactionsCount("*", findPaymentWindow)
	if err != nil {
		return "", false, err
	}
	tag := paymentTag(hostTxId)
	for _, item := range items {
		if item.Category != "send" || item.Address != destination || item.Comment != tag {
			continue
		}
		sent, err := btcutil.NewAmount(item.Amount)
		if err != nil {
			continue
		}
		// send amounts are reported negative
		if int64(sent) == -amount {
			return item.TxID, true, nil
		}
	}
	return "", false, nil
}

// paymentTag is the wallet comment binding a send to its redemption.
func paymentTag(hostTxId ethcommon.Hash) string {
	return common.ByteSliceToPureHexStr(hostTxId[:])
}

// RollbackChain is meaningless here: the node owns the chain state.
func (c *Client) RollbackChain(int64) error { return btcman.ErrUnsupported }

func (c *Client) Close() {
	c.node.Shutdown()
}

func (c *Client) decodeAddress(destination string) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(destination, c.cfg.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address %q: %w", destination, err)
	}
	if !addr.IsForNet(c.cfg.ChainParams) {
		return nil, fmt.Errorf("address %q is for another network", destination)
	}
	return addr, nil
}

func (c *Client) unlockWallet() (func(), error) {
	if c.cfg.WalletPassphrase == "" {
		return func() {}, nil
	}
	if err := c.node.WalletPassphrase(c.cfg.WalletPassphrase, unlockSeconds); err != nil {
		return nil, fmt.Errorf("cannot unlock wallet: %w", err)
	}
	return func() {
		if err := c.node.WalletLock(); err != nil {
			logger.WithField("err", err).Warn("cannot re-lock wallet")
		}
	}, nil
}

func (c *Client) pushTip(height int64) {
	for {
		select {
		case c.tipCh <- height:
			return
		default:
			select {
			case <-c.tipCh:
			default:
			}
		}
	}
}

func (c *Client) blockHeight(blockHash string) (int64, error) {
	hash, err := chainhash.NewHashFromStr(blockHash)
	if err != nil {
		return 0, err
	}
	header, err := c.node.GetBlockHeaderVerbose(hash)
	if err != nil {
		return 0, err
	}
	return int64(header.Height), nil
}
