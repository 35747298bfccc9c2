package follower

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/tokex-io/bridge-go/btcman"
	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/store"
)

// vbyte estimates for a P2WPKH spend
const (
	txOverheadVBytes = 11
	inputVBytes      = 68
	outputVBytes     = 31
)

func (f *Follower) feeFor(inputs, outputs int) int64 {
	return f.cfg.FeeRate * int64(txOverheadVBytes+inputs*inputVBytes+outputs*outputVBytes)
}

// selectUTXOs picks spendable outputs for a target amount, oldest and
// smallest first, recomputing the fee as every added input grows the
// transaction.
func (f *Follower) selectUTXOs(amount int64, outputs int) ([]*store.UTXO, int64, error) {
	spendable, err := f.st.SpendableUTXOs()
	if err != nil {
		return nil, 0, err
	}
	var sum int64
	for n, u := range spendable {
		sum += u.Amount
		fee := f.feeFor(n+1, outputs)
		if sum >= amount+fee {
			return spendable[:n+1], fee, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: have %d, need %d + fee", btcman.ErrInsufficientFunds, sum, amount)
}

// Pay builds, signs and broadcasts a payout. Spending the inputs,
// creating the change output and marking the redemption exchanged
// commit in one store transaction; a failed broadcast rolls all of it
// back.
func (f *Follower) Pay(hostTxId ethcommon.Hash, destination string, amount int64) (string, error) {
	if !f.isReady() {
		return "", btcman.ErrNotReady
	}
	if amount <= 0 {
		return "", fmt.Errorf("non-positive payout amount %d", amount)
	}
	destScript, err := f.payToAddrScript(destination)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	inputs, fee, err := f.selectUTXOs(amount, 2)
	if err != nil {
		return "", err
	}
	var inputSum int64
	for _, u := range inputs {
		inputSum += u.Amount
	}
	change := inputSum - amount - fee
	if change > 0 && change < f.cfg.DustThreshold {
		// dust folds into the fee rather than creating an unspendable output
		fee += change
		change = 0
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(amount, destScript))

	var changeKey *changeTarget
	if change > 0 {
		changeKey, err = f.nextChangeTarget()
		if err != nil {
			return "", err
		}
		tx.AddTxOut(wire.NewTxOut(change, changeKey.pkScript))
	}

	if err := f.signInputs(tx, inputs); err != nil {
		return "", err
	}
	txid := tx.TxHash().String()

	err = f.st.WithTx(func(t *store.Tx) error {
		for _, u := range inputs {
			if err := t.SpendUTXO(u.CoinTxId, u.Index); err != nil {
				return err
			}
		}
		if change > 0 {
			if _, err := t.InsertUTXO(&store.UTXO{
				CoinTxId: txid,
				Index:    1, // outputs are [destination, change]
				Amount:   change,
				KeyPath:  changeKey.keyPath,
				PkScript: changeKey.pkScript,
				Change:   true,
			}); err != nil {
				return err
			}
		}
		if hostTxId != (ethcommon.Hash{}) {
			if err := t.MarkRedemptionExchanged(hostTxId, txid); err != nil {
				return err
			}
		}
		if err := f.net.Broadcast(tx); err != nil {
			return fmt.Errorf("broadcast failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if changeKey != nil {
		f.watch[string(changeKey.pkScript)] = watchEntry{changeKey.keyPath, true, changeKey.address}
	}
	logger.WithFields(logger.Fields{
		"tx":      common.Shorten(txid, 8),
		"to":      destination,
		"satoshi": amount,
		"fee":     fee,
	}).Info("payout broadcast")
	return txid, nil
}

// Sweep empties the wallet to destination, fee taken from the swept
// amount.
func (f *Follower) Sweep(destination string) (string, int64, error) {
	if !f.isReady() {
		return "", 0, btcman.ErrNotReady
	}
	destScript, err := f.payToAddrScript(destination)
	if err != nil {
		return "", 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	inputs, err := f.st.SpendableUTXOs()
	if err != nil {
		return "", 0, err
	}
	if len(inputs) == 0 {
		return "", 0, btcman.ErrInsufficientFunds
	}
	var sum int64
	for _, u := range inputs {
		sum += u.Amount
	}
	fee := f.feeFor(len(inputs), 1)
	amount := sum - fee
	if amount <= f.cfg.DustThreshold {
		return "", 0, fmt.Errorf("%w: %d after fee is below dust", btcman.ErrInsufficientFunds, amount)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(amount, destScript))
	if err := f.signInputs(tx, inputs); err != nil {
		return "", 0, err
	}
	txid := tx.TxHash().String()

	err = f.st.WithTx(func(t *store.Tx) error {
		for _, u := range inputs {
			if err := t.SpendUTXO(u.CoinTxId, u.Index); err != nil {
				return err
			}
		}
		if err := f.net.Broadcast(tx); err != nil {
			return fmt.Errorf("broadcast failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}

	logger.WithFields(logger.Fields{
		"tx":      common.Shorten(txid, 8),
		"to":      destination,
		"satoshi": amount,
		"fee":     fee,
	}).Info("wallet swept")
	return txid, amount, nil
}

func (f *Follower) payToAddrScript(destination string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(destination, f.cfg.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address %q: %w", destination, err)
	}
	if !addr.IsForNet(f.cfg.ChainParams) {
		return nil, fmt.Errorf("address %q is for another network", destination)
	}
	return txscript.PayToAddrScript(addr)
}

type changeTarget struct {
	keyPath  string
	address  string
	pkScript []byte
}

func (f *Follower) nextChangeTarget() (*changeTarget, error) {
	idx, err := f.st.NextChangeIndex()
	if err != nil {
		return nil, err
	}
	key, err := f.kc.Change(idx)
	if err != nil {
		return nil, err
	}
	return &changeTarget{
		keyPath:  key.Path,
		address:  key.Address.EncodeAddress(),
		pkScript: key.PkScript,
	}, nil
}

// signInputs appends one txin per UTXO and fills the witnesses.
// Outputs must already be final: the signatures commit to them.
func (f *Follower) signInputs(tx *wire.MsgTx, inputs []*store.UTXO) error {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, u := range inputs {
		hash, err := chainhash.NewHashFromStr(u.CoinTxId)
		if err != nil {
			return err
		}
		outpoint := wire.NewOutPoint(hash, u.Index)
		tx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))
		fetcher.AddPrevOut(*outpoint, wire.NewTxOut(u.Amount, u.PkScript))
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for idx, u := range inputs {
		key, err := f.kc.KeyAt(u.KeyPath)
		if err != nil {
			return err
		}
		if err := key.SignInput(tx, sigHashes, idx, u.Amount); err != nil {
			return err
		}
	}
	return nil
}
