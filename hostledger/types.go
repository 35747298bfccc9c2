package hostledger

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Block is one host-ledger block as delivered by the push stream.
type Block struct {
	Id           ethcommon.Hash
	Height       int64
	Timestamp    int64 // host epoch seconds
	Transactions []*Transaction
}

// Transaction is one host-ledger transaction with the attachments the
// bridge cares about. Fields the bridge does not consume are not modelled.
type Transaction struct {
	Id              ethcommon.Hash
	Sender          ethcommon.Address
	SenderPublicKey []byte // compressed secp256k1, may be nil
	Transfer        *CurrencyTransfer
	Message         *Message
}

// CurrencyTransfer is the currency-transfer attachment.
type CurrencyTransfer struct {
	CurrencyId uint64
	Recipient  ethcommon.Address
	Units      uint64 // smallest token units
}

// Message is the prunable message attachment. When Encrypted is set, Data
// is an ECIES ciphertext addressed to the bridge account's public key.
type Message struct {
	Data      []byte
	Encrypted bool
}
