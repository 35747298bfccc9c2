package hostledger

import (
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/tokex-io/bridge-go/common"
)

// SimulatedClient is an in-memory host ledger used in tests. Blocks are
// pushed by the test via PushBlock; broadcasts are recorded and also
// debited against the configured balances.
type SimulatedClient struct {
	mu sync.Mutex

	height    int64
	epoch     int64
	coinBal   map[ethcommon.Address]uint64
	tokenBal  map[ethcommon.Address]uint64 // per bridge account, single currency
	blockCh   chan *Block
	Broadcast []*CurrencyTransfer // every transfer sent through the client
	txIds     []ethcommon.Hash

	// FailBroadcast makes the next BroadcastTransfer return this error.
	FailBroadcast error
}

func NewSimulatedClient() *SimulatedClient {
	return &SimulatedClient{
		coinBal:  make(map[ethcommon.Address]uint64),
		tokenBal: make(map[ethcommon.Address]uint64),
		blockCh:  make(chan *Block, 64),
	}
}

func (s *SimulatedClient) Height() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height, nil
}

func (s *SimulatedClient) EpochTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *SimulatedClient) Balance(acct ethcommon.Address) (uint64, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.coinBal[acct]
	return b, b, nil
}

func (s *SimulatedClient) CurrencyBalance(acct ethcommon.Address, currencyId uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenBal[acct], nil
}

func (s *SimulatedClient) BroadcastTransfer(recipient ethcommon.Address, currencyId uint64, units uint64) (ethcommon.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailBroadcast != nil {
		err := s.FailBroadcast
		s.FailBroadcast = nil
		return ethcommon.Hash{}, err
	}
	s.Broadcast = append(s.Broadcast, &CurrencyTransfer{
		CurrencyId: currencyId,
		Recipient:  recipient,
		Units:      units,
	})
	id := ethcommon.Hash(common.RandBytes32())
	s.txIds = append(s.txIds, id)
	return id, nil
}

func (s *SimulatedClient) Blocks() <-chan *Block {
	return s.blockCh
}

// SetBalances seeds the bridge account balances for a test.
func (s *SimulatedClient) SetBalances(acct ethcommon.Address, coin, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coinBal[acct] = coin
	s.tokenBal[acct] = token
}

// PushBlock advances the simulated chain and delivers the block.
func (s *SimulatedClient) PushBlock(b *Block) {
	s.mu.Lock()
	if b.Height == 0 {
		s.height++
		b.Height = s.height
	} else if b.Height > s.height {
		s.height = b.Height
	}
	if b.Id == (ethcommon.Hash{}) {
		b.Id = ethcommon.Hash(common.RandBytes32())
	}
	s.epoch = b.Timestamp
	s.mu.Unlock()
	s.blockCh <- b
}

// AdvanceTo raises the chain height without delivering a block, to test
// confirmation gating.
func (s *SimulatedClient) AdvanceTo(height int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height > s.height {
		s.height = height
	}
}
