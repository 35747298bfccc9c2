package store

import "strings"

// SchemaVersion is checked against the meta singleton on startup. A mismatch
// is fatal: old rows are never silently reinterpreted.
const SchemaVersion = 1

var (
	strZeroBytes32 = strings.Repeat("0", 64)
	strZeroBytes20 = strings.Repeat("0", 40)

	// singleton row (id = 1): schema version, encrypted wallet seed,
	// child-key counters, tracked wallet balance, best header pointer.
	metaTable = `CREATE TABLE IF NOT EXISTS meta (
		id INT PRIMARY KEY NOT NULL CHECK (id = 1),
		schemaVersion INT NOT NULL,
		seed BLOB,
		keyCounter INT NOT NULL DEFAULT 0,
		changeCounter INT NOT NULL DEFAULT 0,
		balance BIGINT NOT NULL DEFAULT 0,
		bestHash CHAR(64),
		bestHeight BIGINT NOT NULL DEFAULT 0,
		CONSTRAINT chk_counters CHECK (keyCounter >= 0 AND changeCounter >= 0)
	);`

	// coin-side receiving identity, one per host account (most recent wins)
	accountTable = `CREATE TABLE IF NOT EXISTS account (
		coinAddress VARCHAR(62) PRIMARY KEY NOT NULL,
		derivationIndex INT NOT NULL,
		hostAccountId CHAR(40) NOT NULL,
		hostPublicKey BLOB,
		createdAt BIGINT NOT NULL,
		CONSTRAINT chk_derivationIndex CHECK (derivationIndex >= 0),
		CONSTRAINT chk_hostAccountId CHECK (hostAccountId != '` + strZeroBytes20 + `')
	);`

	// host -> coin direction, keyed by host transaction id
	redemptionTable = `CREATE TABLE IF NOT EXISTS redemption (
		hostTxId CHAR(64) PRIMARY KEY NOT NULL,
		sender CHAR(40) NOT NULL,
		blockHeight BIGINT NOT NULL,
		timestamp BIGINT NOT NULL,
		tokenAmount BIGINT NOT NULL,
		coinAmount BIGINT NOT NULL,
		destination VARCHAR(62) NOT NULL,
		exchanged BOOLEAN NOT NULL DEFAULT FALSE,
		coinTxId CHAR(64),
		CONSTRAINT chk_hostTxId CHECK (hostTxId != '` + strZeroBytes32 + `'),
		CONSTRAINT chk_tokenAmount CHECK (tokenAmount > 0),
		CONSTRAINT chk_coinAmount CHECK (coinAmount >= 0),
		CONSTRAINT chk_coinTxId CHECK (coinTxId IS NULL OR coinTxId != '` + strZeroBytes32 + `')
	);`

	// coin -> host direction, keyed by (coin tx id, output index).
	// blockHeight = 0 means unconfirmed / deactivated by a reorg.
	paymentTable = `CREATE TABLE IF NOT EXISTS payment (
		coinTxId CHAR(64) NOT NULL,
		idx INT NOT NULL,
		coinBlockId CHAR(64),
		coinAddress VARCHAR(62) NOT NULL,
		hostAccountId CHAR(40) NOT NULL,
		coinAmount BIGINT NOT NULL,
		tokenAmount BIGINT NOT NULL,
		blockHeight BIGINT NOT NULL DEFAULT 0,
		exchanged BOOLEAN NOT NULL DEFAULT FALSE,
		hostTxId CHAR(64),
		PRIMARY KEY (coinTxId, idx),
		CONSTRAINT chk_idx CHECK (idx >= 0),
		CONSTRAINT chk_coinAmount CHECK (coinAmount > 0),
		CONSTRAINT chk_blockHeight CHECK (blockHeight >= 0)
	);`

	// wallet's own spendable outputs (embedded follower strategy only).
	// blockHeight = 0 covers both own unconfirmed change and outputs
	// deactivated by a reorg; the change flag tells them apart.
	utxoTable = `CREATE TABLE IF NOT EXISTS utxo (
		coinTxId CHAR(64) NOT NULL,
		idx INT NOT NULL,
		amount BIGINT NOT NULL,
		blockHeight BIGINT NOT NULL DEFAULT 0,
		keyPath VARCHAR(32) NOT NULL,
		pkScript BLOB NOT NULL,
		change BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (coinTxId, idx),
		CONSTRAINT chk_amount CHECK (amount > 0),
		CONSTRAINT chk_blockHeight CHECK (blockHeight >= 0)
	);`

	// headers retained by the embedded follower for reorg rollback
	headerTable = `CREATE TABLE IF NOT EXISTS header (
		hash CHAR(64) PRIMARY KEY NOT NULL,
		prevHash CHAR(64) NOT NULL,
		height BIGINT NOT NULL,
		work TEXT NOT NULL,
		CONSTRAINT chk_height CHECK (height >= 0)
	);`

	allTables = metaTable + accountTable + redemptionTable + paymentTable + utxoTable + headerTable
)
