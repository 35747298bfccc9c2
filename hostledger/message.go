package hostledger

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

var ErrNoMessage = errors.New("transaction carries no message attachment")

// StringToPrivateKey parses a hex-encoded (with/without 0x) host secret key.
func StringToPrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) >= 2 && (hexKey[:2] == "0x" || hexKey[:2] == "0X") {
		hexKey = hexKey[2:]
	}
	return crypto.HexToECDSA(hexKey)
}

// OpenMessage returns the plaintext of a transaction's message attachment,
// decrypting it with the bridge's host private key when needed.
func OpenMessage(tx *Transaction, priv *ecdsa.PrivateKey) ([]byte, error) {
	if tx.Message == nil || len(tx.Message.Data) == 0 {
		return nil, ErrNoMessage
	}
	if !tx.Message.Encrypted {
		return tx.Message.Data, nil
	}
	plain, err := ecies.ImportECDSA(priv).Decrypt(tx.Message.Data, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot decrypt message: %w", err)
	}
	return plain, nil
}

// SealMessage encrypts plaintext to the given public key. Used by tests and
// by client tooling that crafts redemption transfers.
func SealMessage(plain []byte, pub *ecdsa.PublicKey) ([]byte, error) {
	return ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), plain, nil, nil)
}
