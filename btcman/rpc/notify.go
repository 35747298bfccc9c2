package rpc

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	logger "github.com/sirupsen/logrus"

	"github.com/tokex-io/bridge-go/btcman"
	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/store"
)

// TransactionReceived handles a -walletnotify hook (or an admin-driven
// rescan of one transaction): every output paying a bridge deposit
// address becomes an incoming payment, idempotently.
func (c *Client) TransactionReceived(txId string) error {
	if !c.isReady() {
		return btcman.ErrNotReady
	}
	hash, err := chainhash.NewHashFromStr(txId)
	if err != nil {
		return fmt.Errorf("malformed tx id %q: %w", txId, err)
	}
	res, err := c.node.GetTransaction(hash)
	if err != nil {
		return fmt.Errorf("node does not know tx %s: %w", common.Shorten(txId, 8), err)
	}

	blockId := res.BlockHash
	var height int64
	if blockId != "" {
		if height, err = c.blockHeight(blockId); err != nil {
			return err
		}
	}

	for _, d := range res.Details {
		if d.Category != "receive" {
			continue
		}
		acct, ok, err := c.st.GetAccountByCoinAddress(d.Address)
		if err != nil {
			return err
		}
		if !ok {
			// node wallet address not handed out as a deposit address
			continue
		}
		amount, err := btcutil.NewAmount(d.Amount)
		if err != nil {
			return err
		}
		sat := int64(amount)
		inserted, err := c.st.InsertPayment(&store.Payment{
			CoinTxId:      res.TxID,
			Index:         d.Vout,
			CoinBlockId:   blockId,
			CoinAddress:   d.Address,
			HostAccountId: acct.HostAccountId,
			CoinAmount:    sat,
			TokenAmount:   common.SatoshiToTokens(sat, c.cfg.TokenDecimals, c.cfg.Rate),
			BlockHeight:   height,
		})
		if err != nil {
			return err
		}
		switch {
		case inserted:
			logger.WithFields(logger.Fields{
				"tx":      common.Shorten(res.TxID, 8),
				"address": d.Address,
				"satoshi": sat,
				"height":  height,
			}).Info("deposit recorded")
		case height > 0:
			// re-notified after confirmation
			if err := c.st.ConfirmPayment(res.TxID, d.Vout, blockId, height); err != nil {
				return err
			}
		}
	}

	if height > 0 {
		tip, err := c.node.GetBlockCount()
		if err != nil {
			return err
		}
		c.pushTip(tip)
	}
	return nil
}

// BlockReceived handles a -blocknotify hook: re-query every payment
// still unconfirmed and bind the now-mined ones to their block, then
// wake the engine with the new tip.
func (c *Client) BlockReceived(blockId string) error {
	if !c.isReady() {
		return btcman.ErrNotReady
	}
	if _, err := c.blockHeight(blockId); err != nil {
		return fmt.Errorf("node does not know block %s: %w", common.Shorten(blockId, 8), err)
	}

	pending, err := c.st.ListPayments("", false)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.BlockHeight > 0 {
			continue
		}
		hash, err := chainhash.NewHashFromStr(p.CoinTxId)
		if err != nil {
			return err
		}
		res, err := c.node.GetTransaction(hash)
		if err != nil {
			logger.WithFields(logger.Fields{
				"tx": common.Shorten(p.CoinTxId, 8), "err": err,
			}).Warn("pending deposit unknown to node")
			continue
		}
		if res.BlockHash == "" {
			continue
		}
		height, err := c.blockHeight(res.BlockHash)
		if err != nil {
			return err
		}
		if err := c.st.ConfirmPayment(p.CoinTxId, p.Index, res.BlockHash, height); err != nil {
			return err
		}
	}

	tip, err := c.node.GetBlockCount()
	if err != nil {
		return err
	}
	c.pushTip(tip)
	return nil
}
