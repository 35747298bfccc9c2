package store

import (
	"database/sql"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// InsertAccount records a new coin-side receiving identity.
func (s *Store) InsertAccount(a *Account) error {
	stmt, err := s.stmtCache.Prepare(`INSERT INTO account
		(coinAddress, derivationIndex, hostAccountId, hostPublicKey, createdAt)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(a.CoinAddress, a.DerivationIndex, a.HostAccountId.String()[2:], a.HostPublicKey, a.CreatedAt)
	return err
}

// GetAccountByHostId returns the newest account for a host account id.
// Most-recent-wins: re-requests create a new row and this query picks it.
func (s *Store) GetAccountByHostId(hostId ethcommon.Address) (*Account, bool, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT coinAddress, derivationIndex, hostAccountId, hostPublicKey, createdAt
		FROM account WHERE hostAccountId = ?
		ORDER BY createdAt DESC, derivationIndex DESC LIMIT 1`)
	if err != nil {
		return nil, false, err
	}
	return scanAccount(stmt.QueryRow(hostId.String()[2:]))
}

func (s *Store) GetAccountByCoinAddress(coinAddress string) (*Account, bool, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT coinAddress, derivationIndex, hostAccountId, hostPublicKey, createdAt
		FROM account WHERE coinAddress = ?`)
	if err != nil {
		return nil, false, err
	}
	return scanAccount(stmt.QueryRow(coinAddress))
}

func (s *Store) ListAccounts() ([]*Account, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT coinAddress, derivationIndex, hostAccountId, hostPublicKey, createdAt
		FROM account ORDER BY createdAt ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := decodeAccountRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func decodeAccountRow(row rowScanner) (*Account, error) {
	var (
		a      Account
		hostId string
		pub    []byte
	)
	if err := row.Scan(&a.CoinAddress, &a.DerivationIndex, &hostId, &pub, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.HostAccountId = ethcommon.HexToAddress(hostId)
	a.HostPublicKey = pub
	return &a, nil
}

func scanAccount(row *sql.Row) (*Account, bool, error) {
	a, err := decodeAccountRow(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}
