/*
Package keychain is the embedded follower's key store: one master seed,
an external chain (m/0/i, receiving addresses handed to users) and an
internal chain (m/1/i, change). Addresses are native segwit P2WPKH.

The seed is encrypted at rest (seed.go); the store only ever holds the
ciphertext.
*/
package keychain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	externalBranch = 0
	internalBranch = 1
)

var ErrBadKeyPath = errors.New("malformed key path")

// Key is one derived wallet key with its address and locking script.
type Key struct {
	Path     string
	Priv     *btcec.PrivateKey
	Address  btcutil.Address
	PkScript []byte
}

// SignInput fills the witness of input idx, which must spend an output
// locked to this key's script.
func (k *Key) SignInput(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int, amount int64) error {
	witness, err := txscript.WitnessSignature(
		tx, sigHashes, idx, amount, k.PkScript, txscript.SigHashAll, k.Priv, true)
	if err != nil {
		return err
	}
	tx.TxIn[idx].Witness = witness
	return nil
}

type Keychain struct {
	params   *chaincfg.Params
	external *hdkeychain.ExtendedKey
	internal *hdkeychain.ExtendedKey
}

// New builds the two derivation branches from a decrypted master seed.
func New(seed []byte, params *chaincfg.Params) (*Keychain, error) {
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, err
	}
	external, err := master.Derive(externalBranch)
	if err != nil {
		return nil, err
	}
	internal, err := master.Derive(internalBranch)
	if err != nil {
		return nil, err
	}
	return &Keychain{params: params, external: external, internal: internal}, nil
}

// GenerateSeed returns fresh master seed material of the recommended length.
func GenerateSeed() ([]byte, error) {
	return hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
}

// External derives the receiving key at index (path m/0/index).
func (kc *Keychain) External(index uint32) (*Key, error) {
	return kc.derive(kc.external, externalBranch, index)
}

// Change derives the internal chain key at index (path m/1/index).
func (kc *Keychain) Change(index uint32) (*Key, error) {
	return kc.derive(kc.internal, internalBranch, index)
}

// KeyAt re-derives a key from a stored path like "m/0/7".
func (kc *Keychain) KeyAt(path string) (*Key, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: %q", ErrBadKeyPath, path)
	}
	branch, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadKeyPath, path)
	}
	index, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadKeyPath, path)
	}
	switch branch {
	case externalBranch:
		return kc.External(uint32(index))
	case internalBranch:
		return kc.Change(uint32(index))
	default:
		return nil, fmt.Errorf("%w: unknown branch in %q", ErrBadKeyPath, path)
	}
}

func (kc *Keychain) derive(branch *hdkeychain.ExtendedKey, branchNo, index uint32) (*Key, error) {
	child, err := branch.Derive(index)
	if err != nil {
		return nil, err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, err
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(priv.PubKey().SerializeCompressed()), kc.params)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	return &Key{
		Path:     fmt.Sprintf("m/%d/%d", branchNo, index),
		Priv:     priv,
		Address:  addr,
		PkScript: pkScript,
	}, nil
}
