package store

import (
	"database/sql"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

const redemptionColumns = ` hostTxId, sender, blockHeight, timestamp, tokenAmount, coinAmount, destination, exchanged, coinTxId `

// InsertRedemption records a pending redemption. Duplicate host tx ids are
// silently ignored; the returned bool tells whether a row was inserted.
func (s *Store) InsertRedemption(r *Redemption) (bool, error) {
	stmt, err := s.stmtCache.Prepare(`INSERT OR IGNORE INTO redemption
		(hostTxId, sender, blockHeight, timestamp, tokenAmount, coinAmount, destination, exchanged)
		VALUES (?, ?, ?, ?, ?, ?, ?, FALSE)`)
	if err != nil {
		return false, err
	}
	enc := (&sqlRedemption{}).encode(r)
	res, err := stmt.Exec(enc.HostTxId, enc.Sender, enc.BlockHeight, enc.Timestamp,
		enc.TokenAmount, enc.CoinAmount, enc.Destination)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetRedemption(hostTxId ethcommon.Hash) (*Redemption, bool, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + redemptionColumns + `FROM redemption WHERE hostTxId = ?`)
	if err != nil {
		return nil, false, err
	}
	var r sqlRedemption
	err = stmt.QueryRow(hostTxId.String()[2:]).Scan(
		&r.HostTxId, &r.Sender, &r.BlockHeight, &r.Timestamp,
		&r.TokenAmount, &r.CoinAmount, &r.Destination, &r.Exchanged, &r.CoinTxId)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.decode(), true, nil
}

// EligibleRedemptions returns unexchanged redemptions recorded at or below
// maxHeight, host-height ascending (oldest first).
func (s *Store) EligibleRedemptions(maxHeight int64) ([]*Redemption, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + redemptionColumns + `FROM redemption
		WHERE exchanged = FALSE AND blockHeight <= ?
		ORDER BY blockHeight ASC, timestamp ASC, hostTxId ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(maxHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRedemptions(rows)
}

// ListRedemptions returns redemptions at or above fromHeight, optionally
// including already-exchanged ones.
func (s *Store) ListRedemptions(fromHeight int64, includeExchanged bool) ([]*Redemption, error) {
	query := `SELECT` + redemptionColumns + `FROM redemption WHERE blockHeight >= ?`
	if !includeExchanged {
		query += ` AND exchanged = FALSE`
	}
	query += ` ORDER BY blockHeight ASC, timestamp ASC`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(fromHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRedemptions(rows)
}

// MarkRedemptionExchanged flips the one-way exchanged bit and records the
// coin transaction. ErrAlreadyExchanged if the bit was already set.
func (s *Store) MarkRedemptionExchanged(hostTxId ethcommon.Hash, coinTxId string) error {
	stmt, err := s.stmtCache.Prepare(`UPDATE redemption SET exchanged = TRUE, coinTxId = ?
		WHERE hostTxId = ? AND exchanged = FALSE`)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(coinTxId, hostTxId.String()[2:])
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, ok, err := s.GetRedemption(hostTxId)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return ErrAlreadyExchanged
	}
	return nil
}

// MarkRedemptionExchanged inside an open transaction: the follower spends
// UTXOs and marks the redemption in one atomic unit.
func (t *Tx) MarkRedemptionExchanged(hostTxId ethcommon.Hash, coinTxId string) error {
	res, err := t.tx.Exec(`UPDATE redemption SET exchanged = TRUE, coinTxId = ?
		WHERE hostTxId = ? AND exchanged = FALSE`, coinTxId, hostTxId.String()[2:])
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

// DeleteRedemption removes an unexchanged redemption (admin operation).
func (s *Store) DeleteRedemption(hostTxId ethcommon.Hash) error {
	stmt, err := s.stmtCache.Prepare(`DELETE FROM redemption WHERE hostTxId = ? AND exchanged = FALSE`)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(hostTxId.String()[2:])
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPendingRedemptions is used by the status snapshot.
func (s *Store) CountPendingRedemptions() (int64, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT COUNT(*) FROM redemption WHERE exchanged = FALSE`)
	if err != nil {
		return 0, err
	}
	var n int64
	err = stmt.QueryRow().Scan(&n)
	return n, err
}

func scanRedemptions(rows *sql.Rows) ([]*Redemption, error) {
	var out []*Redemption
	for rows.Next() {
		var r sqlRedemption
		if err := rows.Scan(
			&r.HostTxId, &r.Sender, &r.BlockHeight, &r.Timestamp,
			&r.TokenAmount, &r.CoinAmount, &r.Destination, &r.Exchanged, &r.CoinTxId); err != nil {
			return nil, err
		}
		out = append(out, r.decode())
	}
	return out, rows.Err()
}
