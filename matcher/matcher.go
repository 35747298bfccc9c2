/*
Package matcher turns host-ledger blocks into pending redemptions: a
currency transfer to the bridge account whose message attachment decodes
to a valid coin address becomes a Redemption row. Anything that fails
validation is logged and dropped; the transfer is not refunded.
*/
package matcher

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/hostledger"
	"github.com/tokex-io/bridge-go/store"
)

type Config struct {
	CurrencyId    uint64            // the bridged token
	BridgeAccount ethcommon.Address // transfers to anyone else are ignored
	PrivateKey    *ecdsa.PrivateKey // opens encrypted messages
	ChainParams   *chaincfg.Params  // destination address validation
	Rate          decimal.Decimal   // coin per whole token
	TokenDecimals int32
}

type Matcher struct {
	st  *store.Store
	cfg Config
}

func New(st *store.Store, cfg Config) *Matcher {
	return &Matcher{st: st, cfg: cfg}
}

// OnBlock records every redemption transfer in the block. Re-delivered
// blocks are harmless: insertion is keyed on the host transaction id.
func (m *Matcher) OnBlock(block *hostledger.Block) error {
	for _, tx := range block.Transactions {
		if tx.Transfer == nil ||
			tx.Transfer.CurrencyId != m.cfg.CurrencyId ||
			tx.Transfer.Recipient != m.cfg.BridgeAccount {
			continue
		}
		m.matchTransfer(block, tx)
	}
	return nil
}

// matchTransfer validates one candidate transfer. Failures are final:
// the tokens were sent without a usable destination and stay with the
// bridge.
func (m *Matcher) matchTransfer(block *hostledger.Block, tx *hostledger.Transaction) {
	log := logger.WithFields(logger.Fields{
		"hostTx": common.Shorten(tx.Id.String(), 8),
		"height": block.Height,
	})

	plain, err := hostledger.OpenMessage(tx, m.cfg.PrivateKey)
	if err != nil {
		log.WithField("err", err).Warn("redemption transfer dropped, unreadable message")
		return
	}
	destination := string(plain)
	addr, err := btcutil.DecodeAddress(destination, m.cfg.ChainParams)
	if err != nil || !addr.IsForNet(m.cfg.ChainParams) {
		log.WithField("destination", destination).Warn("redemption transfer dropped, invalid coin address")
		return
	}
	if tx.Transfer.Units == 0 {
		log.Warn("redemption transfer dropped, zero amount")
		return
	}
	coinAmount := common.TokensToSatoshi(tx.Transfer.Units, m.cfg.TokenDecimals, m.cfg.Rate)
	if coinAmount <= 0 {
		log.WithField("units", tx.Transfer.Units).Warn("redemption transfer dropped, amount below one satoshi")
		return
	}

	inserted, err := m.st.InsertRedemption(&store.Redemption{
		HostTxId:    tx.Id,
		Sender:      tx.Sender,
		BlockHeight: block.Height,
		Timestamp:   block.Timestamp,
		TokenAmount: tx.Transfer.Units,
		CoinAmount:  coinAmount,
		Destination: addr.EncodeAddress(),
	})
	if err != nil {
		log.WithField("err", err).Error("cannot persist redemption")
		return
	}
	if inserted {
		log.WithFields(logger.Fields{
			"destination": addr.EncodeAddress(),
			"units":       tx.Transfer.Units,
			"satoshi":     coinAmount,
		}).Info("redemption recorded")
	}
}
