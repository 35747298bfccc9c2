/*
Package store is the bridge's durable state: accounts, redemptions,
payments, the follower wallet's UTXO set, retained coin-chain headers
and the meta singleton (schema version, encrypted wallet seed,
child-key counters, tracked balance).

Single-row reads and writes go through a prepared statement cache.
Mutations that must be atomic across records (reorg application,
payout build, balance-coupled UTXO changes) run inside one *sql.Tx
obtained from Begin; the store has no nested transactions.
*/
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/tokex-io/bridge-go/database"
)

var (
	ErrSchemaMismatch   = errors.New("schema version mismatch")
	ErrSeedMissing      = errors.New("wallet seed not initialized")
	ErrAlreadyExchanged = errors.New("record already exchanged")
	ErrNotFound         = errors.New("record not found")
)

type Store struct {
	db        *sql.DB
	stmtCache *database.StmtCache
}

// NewStore creates the tables on first run and verifies the schema version
// on every run. Version mismatch fails loudly; old rows are never
// reinterpreted.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(allTables); err != nil {
		return nil, err
	}

	s := &Store{
		db:        db,
		stmtCache: database.NewStmtCache(db),
	}

	var version int
	err := db.QueryRow(`SELECT schemaVersion FROM meta WHERE id = 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.Exec(`INSERT INTO meta (id, schemaVersion) VALUES (1, ?)`, SchemaVersion)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case version != SchemaVersion:
		return nil, fmt.Errorf("%w: stored=%d, supported=%d", ErrSchemaMismatch, version, SchemaVersion)
	}

	return s, nil
}

func (s *Store) Close() {
	s.stmtCache.Clear()
}

// Begin opens a store-level transaction for multi-record atomic units.
func (s *Store) Begin() (*Tx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// WithTx runs fn in one store transaction, committing on nil and rolling
// back every partial write otherwise.
func (s *Store) WithTx(fn func(t *Tx) error) error {
	return database.WithTx(s.db, func(tx *sql.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// Tx is an open store transaction. All writes through it commit or roll
// back as one unit.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// ---- meta singleton ----

// Seed returns the encrypted wallet seed material, or ErrSeedMissing.
func (s *Store) Seed() ([]byte, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT seed FROM meta WHERE id = 1`)
	if err != nil {
		return nil, err
	}
	var seed []byte
	if err := stmt.QueryRow().Scan(&seed); err != nil {
		return nil, err
	}
	if len(seed) == 0 {
		return nil, ErrSeedMissing
	}
	return seed, nil
}

// SetSeed stores the encrypted wallet seed. It refuses to overwrite an
// existing seed: losing the old one would orphan every derived address.
func (s *Store) SetSeed(seed []byte) error {
	res, err := s.db.Exec(`UPDATE meta SET seed = ? WHERE id = 1 AND seed IS NULL`, seed)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("wallet seed already set")
	}
	return nil
}

// NextKeyIndex increments and returns the external (receiving) child-key
// counter. The counter is monotone: an index is never handed out twice.
func (s *Store) NextKeyIndex() (uint32, error) {
	return s.bumpCounter("keyCounter")
}

// NextChangeIndex increments and returns the internal (change) counter.
func (s *Store) NextChangeIndex() (uint32, error) {
	return s.bumpCounter("changeCounter")
}

// Counters returns how many external and change keys have been handed
// out, without bumping either counter.
func (s *Store) Counters() (keys, change uint32, err error) {
	stmt, err := s.stmtCache.Prepare(`SELECT keyCounter, changeCounter FROM meta WHERE id = 1`)
	if err != nil {
		return 0, 0, err
	}
	if err := stmt.QueryRow().Scan(&keys, &change); err != nil {
		return 0, 0, err
	}
	return keys, change, nil
}

func (s *Store) bumpCounter(column string) (uint32, error) {
	var next int64
	err := database.WithTx(s.db, func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT ` + column + ` FROM meta WHERE id = 1`)
		if err := row.Scan(&next); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE meta SET `+column+` = ? WHERE id = 1`, next+1)
		return err
	})
	if err != nil {
		return 0, err
	}
	return uint32(next), nil
}

// Balance returns the tracked wallet balance in satoshi.
func (s *Store) Balance() (int64, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT balance FROM meta WHERE id = 1`)
	if err != nil {
		return 0, err
	}
	var bal int64
	if err := stmt.QueryRow().Scan(&bal); err != nil {
		return 0, err
	}
	return bal, nil
}

// AddBalance shifts the tracked balance inside an open transaction, in the
// same atomic unit as the UTXO mutation that justifies the shift.
func (t *Tx) AddBalance(delta int64) error {
	var bal int64
	if err := t.tx.QueryRow(`SELECT balance FROM meta WHERE id = 1`).Scan(&bal); err != nil {
		return err
	}
	if bal+delta < 0 {
		return fmt.Errorf("balance would go negative: %d%+d", bal, delta)
	}
	_, err := t.tx.Exec(`UPDATE meta SET balance = ? WHERE id = 1`, bal+delta)
	return err
}

// BestBlock returns the follower's persisted best block pointer.
func (s *Store) BestBlock() (hash string, height int64, err error) {
	stmt, err := s.stmtCache.Prepare(`SELECT bestHash, bestHeight FROM meta WHERE id = 1`)
	if err != nil {
		return "", 0, err
	}
	var h sql.NullString
	if err := stmt.QueryRow().Scan(&h, &height); err != nil {
		return "", 0, err
	}
	if h.Valid {
		hash = h.String
	}
	return hash, height, nil
}

func (t *Tx) SetBestBlock(hash string, height int64) error {
	_, err := t.tx.Exec(`UPDATE meta SET bestHash = ?, bestHeight = ? WHERE id = 1`, hash, height)
	return err
}
