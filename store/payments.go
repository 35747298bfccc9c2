package store

import (
	"database/sql"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

const paymentColumns = ` coinTxId, idx, coinBlockId, coinAddress, hostAccountId, coinAmount, tokenAmount, blockHeight, exchanged, hostTxId `

// InsertPayment records an incoming coin payment. Duplicate (txid, index)
// pairs are silently ignored; the bool tells whether a row was inserted.
func (s *Store) InsertPayment(p *Payment) (bool, error) {
	stmt, err := s.stmtCache.Prepare(`INSERT OR IGNORE INTO payment
		(coinTxId, idx, coinBlockId, coinAddress, hostAccountId, coinAmount, tokenAmount, blockHeight, exchanged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE)`)
	if err != nil {
		return false, err
	}
	enc := (&sqlPayment{}).encode(p)
	res, err := stmt.Exec(enc.CoinTxId, enc.Index, enc.CoinBlockId, enc.CoinAddress,
		enc.HostAccountId, enc.CoinAmount, enc.TokenAmount, enc.BlockHeight)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetPayment(coinTxId string, index uint32) (*Payment, bool, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + paymentColumns + `FROM payment WHERE coinTxId = ? AND idx = ?`)
	if err != nil {
		return nil, false, err
	}
	var p sqlPayment
	err = stmt.QueryRow(coinTxId, index).Scan(
		&p.CoinTxId, &p.Index, &p.CoinBlockId, &p.CoinAddress, &p.HostAccountId,
		&p.CoinAmount, &p.TokenAmount, &p.BlockHeight, &p.Exchanged, &p.HostTxId)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p.decode(), true, nil
}

// EligiblePayments returns unexchanged confirmed payments whose block is at
// or below maxHeight, ordered ascending for a fair, deterministic pass.
func (s *Store) EligiblePayments(maxHeight int64) ([]*Payment, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + paymentColumns + `FROM payment
		WHERE exchanged = FALSE AND blockHeight > 0 AND blockHeight <= ?
		ORDER BY blockHeight ASC, coinTxId ASC, idx ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(maxHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

// ListPayments returns payments, optionally filtered to one coin address
// and optionally including already-exchanged ones.
func (s *Store) ListPayments(coinAddress string, includeExchanged bool) ([]*Payment, error) {
	query := `SELECT` + paymentColumns + `FROM payment WHERE 1 = 1`
	var args []interface{}
	if coinAddress != "" {
		query += ` AND coinAddress = ?`
		args = append(args, coinAddress)
	}
	if !includeExchanged {
		query += ` AND exchanged = FALSE`
	}
	query += ` ORDER BY blockHeight ASC, coinTxId ASC, idx ASC`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

// HasUnexchangedPaymentForAddress backs the address-reuse rule: an address
// with a pending deposit is never reassigned.
func (s *Store) HasUnexchangedPaymentForAddress(coinAddress string) (bool, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT COUNT(*) FROM payment
		WHERE coinAddress = ? AND exchanged = FALSE`)
	if err != nil {
		return false, err
	}
	var n int64
	if err := stmt.QueryRow(coinAddress).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConfirmPayment binds a previously-unconfirmed payment to a block.
func (s *Store) ConfirmPayment(coinTxId string, index uint32, blockId string, height int64) error {
	stmt, err := s.stmtCache.Prepare(`UPDATE payment SET coinBlockId = ?, blockHeight = ?
		WHERE coinTxId = ? AND idx = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(blockId, height, coinTxId, index)
	return err
}

// MarkPaymentExchanged flips the one-way exchanged bit with the issuing
// host transaction id.
func (s *Store) MarkPaymentExchanged(coinTxId string, index uint32, hostTxId ethcommon.Hash) error {
	stmt, err := s.stmtCache.Prepare(`UPDATE payment SET exchanged = TRUE, hostTxId = ?
		WHERE coinTxId = ? AND idx = ? AND exchanged = FALSE`)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(hostTxId.String()[2:], coinTxId, index)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExchanged
	}
	return nil
}

// CountPendingPayments is used by the status snapshot.
func (s *Store) CountPendingPayments() (int64, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT COUNT(*) FROM payment WHERE exchanged = FALSE`)
	if err != nil {
		return 0, err
	}
	var n int64
	err = stmt.QueryRow().Scan(&n)
	return n, err
}

// InsertPayment inside an open transaction: the follower records a
// deposit in the same atomic unit as its UTXO.
func (t *Tx) InsertPayment(p *Payment) (bool, error) {
	enc := (&sqlPayment{}).encode(p)
	res, err := t.tx.Exec(`INSERT OR IGNORE INTO payment
		(coinTxId, idx, coinBlockId, coinAddress, hostAccountId, coinAmount, tokenAmount, blockHeight, exchanged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE)`,
		enc.CoinTxId, enc.Index, enc.CoinBlockId, enc.CoinAddress,
		enc.HostAccountId, enc.CoinAmount, enc.TokenAmount, enc.BlockHeight)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeactivatePaymentsAbove resets payments confirmed above height back to
// unconfirmed, inside the enclosing reorg transaction.
func (t *Tx) DeactivatePaymentsAbove(height int64) error {
	_, err := t.tx.Exec(`UPDATE payment SET blockHeight = 0, coinBlockId = NULL
		WHERE blockHeight > ?`, height)
	return err
}

// ReactivatePayment rebinds an unconfirmed payment to a new-chain block.
func (t *Tx) ReactivatePayment(coinTxId string, index uint32, blockId string, height int64) (bool, error) {
	res, err := t.tx.Exec(`UPDATE payment SET coinBlockId = ?, blockHeight = ?
		WHERE coinTxId = ? AND idx = ? AND blockHeight = 0`, blockId, height, coinTxId, index)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanPayments(rows *sql.Rows) ([]*Payment, error) {
	var out []*Payment
	for rows.Next() {
		var p sqlPayment
		if err := rows.Scan(
			&p.CoinTxId, &p.Index, &p.CoinBlockId, &p.CoinAddress, &p.HostAccountId,
			&p.CoinAmount, &p.TokenAmount, &p.BlockHeight, &p.Exchanged, &p.HostTxId); err != nil {
			return nil, err
		}
		out = append(out, p.decode())
	}
	return out, rows.Err()
}
