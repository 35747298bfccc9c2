package store

import (
	"database/sql"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/tokex-io/bridge-go/common"
)

// Account is the coin-side receiving identity of a host account.
type Account struct {
	CoinAddress     string
	DerivationIndex uint32
	HostAccountId   ethcommon.Address
	HostPublicKey   []byte // may be nil
	CreatedAt       int64  // host epoch seconds
}

// Redemption is a host-ledger transfer to the bridge, pending or done,
// to be paid out in coin.
type Redemption struct {
	HostTxId    ethcommon.Hash
	Sender      ethcommon.Address
	BlockHeight int64
	Timestamp   int64
	TokenAmount uint64
	CoinAmount  int64 // satoshi
	Destination string
	Exchanged   bool
	CoinTxId    string // empty until exchanged
}

// Payment is a coin-ledger payment to a bridge address, pending or done,
// to be paid out in token units. BlockHeight 0 = unconfirmed.
type Payment struct {
	CoinTxId      string
	Index         uint32
	CoinBlockId   string // empty while unconfirmed
	CoinAddress   string
	HostAccountId ethcommon.Address
	CoinAmount    int64 // satoshi
	TokenAmount   uint64
	BlockHeight   int64
	Exchanged     bool
	HostTxId      ethcommon.Hash // zero until exchanged
}

// UTXO is one of the wallet's own spendable outputs.
type UTXO struct {
	CoinTxId    string
	Index       uint32
	Amount      int64 // satoshi
	BlockHeight int64 // 0 = own unconfirmed change or reorg-deactivated
	KeyPath     string
	PkScript    []byte
	Change      bool
}

// Header is one retained coin-chain header.
type Header struct {
	Hash     string
	PrevHash string
	Height   int64
	Work     string // cumulative work, hex big.Int
}

type sqlRedemption struct {
	HostTxId    string
	Sender      string
	BlockHeight int64
	Timestamp   int64
	TokenAmount int64
	CoinAmount  int64
	Destination string
	Exchanged   bool
	CoinTxId    sql.NullString
}

func (r *sqlRedemption) encode(red *Redemption) *sqlRedemption {
	r.HostTxId = red.HostTxId.String()[2:]
	r.Sender = red.Sender.String()[2:]
	r.BlockHeight = red.BlockHeight
	r.Timestamp = red.Timestamp
	r.TokenAmount = int64(red.TokenAmount)
	r.CoinAmount = red.CoinAmount
	r.Destination = red.Destination
	r.Exchanged = red.Exchanged
	if red.CoinTxId != "" {
		r.CoinTxId = sql.NullString{String: red.CoinTxId, Valid: true}
	}
	return r
}

func (r *sqlRedemption) decode() *Redemption {
	red := &Redemption{
		HostTxId:    common.HexStrToHash(r.HostTxId),
		Sender:      ethcommon.HexToAddress(r.Sender),
		BlockHeight: r.BlockHeight,
		Timestamp:   r.Timestamp,
		TokenAmount: uint64(r.TokenAmount),
		CoinAmount:  r.CoinAmount,
		Destination: r.Destination,
		Exchanged:   r.Exchanged,
	}
	if r.CoinTxId.Valid {
		red.CoinTxId = r.CoinTxId.String
	}
	return red
}

type sqlPayment struct {
	CoinTxId      string
	Index         int64
	CoinBlockId   sql.NullString
	CoinAddress   string
	HostAccountId string
	CoinAmount    int64
	TokenAmount   int64
	BlockHeight   int64
	Exchanged     bool
	HostTxId      sql.NullString
}

func (p *sqlPayment) encode(pay *Payment) *sqlPayment {
	p.CoinTxId = pay.CoinTxId
	p.Index = int64(pay.Index)
	if pay.CoinBlockId != "" {
		p.CoinBlockId = sql.NullString{String: pay.CoinBlockId, Valid: true}
	}
	p.CoinAddress = pay.CoinAddress
	p.HostAccountId = pay.HostAccountId.String()[2:]
	p.CoinAmount = pay.CoinAmount
	p.TokenAmount = int64(pay.TokenAmount)
	p.BlockHeight = pay.BlockHeight
	p.Exchanged = pay.Exchanged
	if pay.HostTxId != (ethcommon.Hash{}) {
		p.HostTxId = sql.NullString{String: pay.HostTxId.String()[2:], Valid: true}
	}
	return p
}

func (p *sqlPayment) decode() *Payment {
	pay := &Payment{
		CoinTxId:      p.CoinTxId,
		Index:         uint32(p.Index),
		CoinAddress:   p.CoinAddress,
		HostAccountId: ethcommon.HexToAddress(p.HostAccountId),
		CoinAmount:    p.CoinAmount,
		TokenAmount:   uint64(p.TokenAmount),
		BlockHeight:   p.BlockHeight,
		Exchanged:     p.Exchanged,
	}
	if p.CoinBlockId.Valid {
		pay.CoinBlockId = p.CoinBlockId.String
	}
	if p.HostTxId.Valid {
		pay.HostTxId = common.HexStrToHash(p.HostTxId.String)
	}
	return pay
}
