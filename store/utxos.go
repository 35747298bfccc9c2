package store

import (
	"database/sql"
)

const utxoColumns = ` coinTxId, idx, amount, blockHeight, keyPath, pkScript, change `

// Balance coupling: a UTXO counts toward the tracked balance while it is
// confirmed (blockHeight > 0) or is the wallet's own change. Every counting
// change below shifts the balance in the same transaction.

// InsertUTXO records a new output inside an open transaction.
func (t *Tx) InsertUTXO(u *UTXO) (bool, error) {
	res, err := t.tx.Exec(`INSERT OR IGNORE INTO utxo
		(coinTxId, idx, amount, blockHeight, keyPath, pkScript, change)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.CoinTxId, u.Index, u.Amount, u.BlockHeight, u.KeyPath, u.PkScript, u.Change)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil // re-delivered, already known
	}
	if u.BlockHeight > 0 || u.Change {
		if err := t.AddBalance(u.Amount); err != nil {
			return false, err
		}
	}
	return true, nil
}

// SpendUTXO removes a consumed output and debits the balance. Spent rows
// are deleted, not soft-deleted: a concurrent payout attempt cannot pick
// them again.
func (t *Tx) SpendUTXO(coinTxId string, index uint32) error {
	var amount int64
	err := t.tx.QueryRow(`SELECT amount FROM utxo WHERE coinTxId = ? AND idx = ?`,
		coinTxId, index).Scan(&amount)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(`DELETE FROM utxo WHERE coinTxId = ? AND idx = ?`, coinTxId, index); err != nil {
		return err
	}
	return t.AddBalance(-amount)
}

// ConfirmUTXO binds an own-change output to the block that mined it.
// The amount is already counted, so the balance is untouched.
func (t *Tx) ConfirmUTXO(coinTxId string, index uint32, height int64) error {
	_, err := t.tx.Exec(`UPDATE utxo SET blockHeight = ? WHERE coinTxId = ? AND idx = ?`,
		height, coinTxId, index)
	return err
}

// DeactivateUTXOsAbove resets outputs confirmed above height back to
// unconfirmed and debits the non-change ones from the balance.
func (t *Tx) DeactivateUTXOsAbove(height int64) (int, error) {
	rows, err := t.tx.Query(`SELECT coinTxId, idx, amount, change FROM utxo WHERE blockHeight > ?`, height)
	if err != nil {
		return 0, err
	}
	type hit struct {
		txid   string
		idx    uint32
		amount int64
		change bool
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.txid, &h.idx, &h.amount, &h.change); err != nil {
			rows.Close()
			return 0, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, h := range hits {
		if _, err := t.tx.Exec(`UPDATE utxo SET blockHeight = 0 WHERE coinTxId = ? AND idx = ?`,
			h.txid, h.idx); err != nil {
			return 0, err
		}
		if !h.change {
			if err := t.AddBalance(-h.amount); err != nil {
				return 0, err
			}
		}
	}
	return len(hits), nil
}

// ReactivateUTXO rebinds a deactivated output to a new-chain block and
// credits non-change amounts back.
func (t *Tx) ReactivateUTXO(coinTxId string, index uint32, height int64) (bool, error) {
	var (
		amount int64
		change bool
	)
	err := t.tx.QueryRow(`SELECT amount, change FROM utxo
		WHERE coinTxId = ? AND idx = ? AND blockHeight = 0`, coinTxId, index).Scan(&amount, &change)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := t.tx.Exec(`UPDATE utxo SET blockHeight = ? WHERE coinTxId = ? AND idx = ?`,
		height, coinTxId, index); err != nil {
		return false, err
	}
	if !change {
		if err := t.AddBalance(amount); err != nil {
			return false, err
		}
	}
	return true, nil
}

// SpendableUTXOs returns outputs eligible for a payout build: confirmed
// ones oldest/smallest-first, then own unconfirmed change.
func (s *Store) SpendableUTXOs() ([]*UTXO, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + utxoColumns + `FROM utxo
		WHERE blockHeight > 0 OR change = TRUE
		ORDER BY (blockHeight = 0) ASC, blockHeight ASC, amount ASC, coinTxId ASC, idx ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUTXOs(rows)
}

func (s *Store) GetUTXO(coinTxId string, index uint32) (*UTXO, bool, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + utxoColumns + `FROM utxo WHERE coinTxId = ? AND idx = ?`)
	if err != nil {
		return nil, false, err
	}
	var u UTXO
	err = stmt.QueryRow(coinTxId, index).Scan(
		&u.CoinTxId, &u.Index, &u.Amount, &u.BlockHeight, &u.KeyPath, &u.PkScript, &u.Change)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &u, true, nil
}

func (s *Store) ListUTXOs() ([]*UTXO, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + utxoColumns + `FROM utxo
		ORDER BY blockHeight ASC, coinTxId ASC, idx ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUTXOs(rows)
}

// CountedUTXOSum is the sum the tracked balance must always equal.
func (s *Store) CountedUTXOSum() (int64, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT COALESCE(SUM(amount), 0) FROM utxo
		WHERE blockHeight > 0 OR change = TRUE`)
	if err != nil {
		return 0, err
	}
	var sum int64
	err = stmt.QueryRow().Scan(&sum)
	return sum, err
}

func scanUTXOs(rows *sql.Rows) ([]*UTXO, error) {
	var out []*UTXO
	for rows.Next() {
		var u UTXO
		if err := rows.Scan(
			&u.CoinTxId, &u.Index, &u.Amount, &u.BlockHeight, &u.KeyPath, &u.PkScript, &u.Change); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
