package store

import (
	"database/sql"
)

// PutHeader appends a retained header. Re-delivery is ignored.
func (s *Store) PutHeader(h *Header) error {
	stmt, err := s.stmtCache.Prepare(`INSERT OR IGNORE INTO header
		(hash, prevHash, height, work) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(h.Hash, h.PrevHash, h.Height, h.Work)
	return err
}

func (s *Store) GetHeader(hash string) (*Header, bool, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT hash, prevHash, height, work FROM header WHERE hash = ?`)
	if err != nil {
		return nil, false, err
	}
	var h Header
	err = stmt.QueryRow(hash).Scan(&h.Hash, &h.PrevHash, &h.Height, &h.Work)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &h, true, nil
}

// GetHeaderAtHeight returns the retained header at the given height on the
// current best chain (heights are unique after reorg pruning).
func (s *Store) GetHeaderAtHeight(height int64) (*Header, bool, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT hash, prevHash, height, work FROM header
		WHERE height = ? ORDER BY work DESC LIMIT 1`)
	if err != nil {
		return nil, false, err
	}
	var h Header
	err = stmt.QueryRow(height).Scan(&h.Hash, &h.PrevHash, &h.Height, &h.Work)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &h, true, nil
}

// RetainedHeaders returns every retained header, lowest height first.
// At a duplicated height the best-work header comes last.
func (s *Store) RetainedHeaders() ([]*Header, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT hash, prevHash, height, work FROM header
		ORDER BY height ASC, work ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hs []*Header
	for rows.Next() {
		var h Header
		if err := rows.Scan(&h.Hash, &h.PrevHash, &h.Height, &h.Work); err != nil {
			return nil, err
		}
		hs = append(hs, &h)
	}
	return hs, rows.Err()
}

// OldestRetainedHeight bounds how deep a rollback can reach.
func (s *Store) OldestRetainedHeight() (int64, bool, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT MIN(height) FROM header`)
	if err != nil {
		return 0, false, err
	}
	var min sql.NullInt64
	if err := stmt.QueryRow().Scan(&min); err != nil {
		return 0, false, err
	}
	if !min.Valid {
		return 0, false, nil
	}
	return min.Int64, true, nil
}

// DeleteHeadersAbove drops stale-branch headers inside the enclosing
// reorg transaction.
func (t *Tx) DeleteHeadersAbove(height int64) error {
	_, err := t.tx.Exec(`DELETE FROM header WHERE height > ?`, height)
	return err
}

// PutHeader within an open transaction (reorg replay path).
func (t *Tx) PutHeader(h *Header) error {
	_, err := t.tx.Exec(`INSERT OR IGNORE INTO header
		(hash, prevHash, height, work) VALUES (?, ?, ?, ?)`,
		h.Hash, h.PrevHash, h.Height, h.Work)
	return err
}

// PruneHeadersBelow trims the retained window.
func (s *Store) PruneHeadersBelow(height int64) error {
	stmt, err := s.stmtCache.Prepare(`DELETE FROM header WHERE height < ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(height)
	return err
}
