package hostledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	logger "github.com/sirupsen/logrus"
)

// currencyABI is the fragment of the bridge currency contract the
// client consumes: balance lookup, transfer, and the transfer event
// carrying the message attachments.
const currencyABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"},{"name":"currencyId","type":"uint64"}],
	 "outputs":[{"name":"","type":"uint64"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"recipient","type":"address"},{"name":"currencyId","type":"uint64"},{"name":"units","type":"uint64"}],
	 "outputs":[]},
	{"type":"event","name":"Transfer","inputs":[
	 {"name":"sender","type":"address","indexed":true},
	 {"name":"recipient","type":"address","indexed":true},
	 {"name":"currencyId","type":"uint64"},
	 {"name":"units","type":"uint64"},
	 {"name":"message","type":"bytes"},
	 {"name":"encrypted","type":"bool"},
	 {"name":"senderPublicKey","type":"bytes"}]}
]`

var transferSignatureHash = crypto.Keccak256Hash(
	[]byte("Transfer(address,address,uint64,uint64,bytes,bool,bytes)"))

type transferEventData struct {
	CurrencyId      uint64
	Units           uint64
	Message         []byte
	Encrypted       bool
	SenderPublicKey []byte
}

type EthConfig struct {
	URL             string
	ContractAddress ethcommon.Address
	PrivateKey      *ecdsa.PrivateKey // signs outbound transfers
	PollInterval    time.Duration
}

// EthClient implements Client against an EVM-style host ledger. Blocks
// are polled; currency transfers and their attachments are read from
// the currency contract's event logs.
type EthClient struct {
	client   *ethclient.Client
	abi      abi.ABI
	cfg      EthConfig
	chainId  *big.Int
	sender   ethcommon.Address
	blockCh  chan *Block
	lastSeen int64
}

func NewEthClient(cfg EthConfig) (*EthClient, error) {
	client, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	chainId, err := client.ChainID(context.Background())
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(currencyABI))
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &EthClient{
		client:  client,
		abi:     parsed,
		cfg:     cfg,
		chainId: chainId,
		sender:  crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
		blockCh: make(chan *Block, 64),
	}, nil
}

func (c *EthClient) Height() (int64, error) {
	n, err := c.client.BlockNumber(context.Background())
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func (c *EthClient) EpochTime() int64 {
	header, err := c.client.HeaderByNumber(context.Background(), nil)
	if err != nil {
		return time.Now().Unix()
	}
	return int64(header.Time)
}

func (c *EthClient) Balance(acct ethcommon.Address) (confirmed, unconfirmed uint64, err error) {
	ctx := context.Background()
	bal, err := c.client.BalanceAt(ctx, acct, nil)
	if err != nil {
		return 0, 0, err
	}
	pending, err := c.client.PendingBalanceAt(ctx, acct)
	if err != nil {
		return 0, 0, err
	}
	return bal.Uint64(), pending.Uint64(), nil
}

func (c *EthClient) CurrencyBalance(acct ethcommon.Address, currencyId uint64) (uint64, error) {
	data, err := c.abi.Pack("balanceOf", acct, currencyId)
	if err != nil {
		return 0, err
	}
	out, err := c.client.CallContract(context.Background(), ethereum.CallMsg{
		To:   &c.cfg.ContractAddress,
		Data: data,
	}, nil)
	if err != nil {
		return 0, err
	}
	values, err := c.abi.Unpack("balanceOf", out)
	if err != nil {
		return 0, err
	}
	return values[0].(uint64), nil
}

func (c *EthClient) BroadcastTransfer(recipient ethcommon.Address, currencyId uint64, units uint64) (ethcommon.Hash, error) {
	ctx := context.Background()
	data, err := c.abi.Pack("transfer", recipient, currencyId, units)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	nonce, err := c.client.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.sender,
		To:   &c.cfg.ContractAddress,
		Data: data,
	})
	if err != nil {
		return ethcommon.Hash{}, err
	}
	tx := types.NewTransaction(nonce, c.cfg.ContractAddress, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainId), c.cfg.PrivateKey)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return ethcommon.Hash{}, err
	}
	return signed.Hash(), nil
}

func (c *EthClient) Blocks() <-chan *Block {
	return c.blockCh
}

// Start polls the chain head and delivers every new block, in order,
// on the Blocks stream. fromHeight -1 starts at the current head.
func (c *EthClient) Start(ctx context.Context, fromHeight int64) error {
	if fromHeight < 0 {
		head, err := c.Height()
		if err != nil {
			return err
		}
		fromHeight = head
	}
	c.lastSeen = fromHeight - 1

	go func() {
		defer close(c.blockCh)
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.pollOnce(ctx); err != nil {
					logger.WithField("error", err).Warn("host ledger poll failed")
				}
			}
		}
	}()
	return nil
}

func (c *EthClient) pollOnce(ctx context.Context) error {
	head, err := c.Height()
	if err != nil {
		return err
	}
	for h := c.lastSeen + 1; h <= head; h++ {
		b, err := c.fetchBlock(ctx, h)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case c.blockCh <- b:
			c.lastSeen = h
		}
	}
	return nil
}

func (c *EthClient) fetchBlock(ctx context.Context, height int64) (*Block, error) {
	header, err := c.client.HeaderByNumber(ctx, big.NewInt(height))
	if err != nil {
		return nil, err
	}
	b := &Block{
		Id:        header.Hash(),
		Height:    height,
		Timestamp: int64(header.Time),
	}
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(height),
		ToBlock:   big.NewInt(height),
		Addresses: []ethcommon.Address{c.cfg.ContractAddress},
	})
	if err != nil {
		return nil, err
	}
	for _, vlog := range logs {
		if vlog.Topics[0] != transferSignatureHash || len(vlog.Topics) < 3 {
			continue
		}
		ev := new(transferEventData)
		if err := c.abi.UnpackIntoInterface(ev, "Transfer", vlog.Data); err != nil {
			logger.WithField("txHash", vlog.TxHash.String()).Warn("undecodable transfer event, skipped")
			continue
		}
		tx := &Transaction{
			Id:              vlog.TxHash,
			Sender:          ethcommon.BytesToAddress(vlog.Topics[1].Bytes()),
			SenderPublicKey: ev.SenderPublicKey,
			Transfer: &CurrencyTransfer{
				CurrencyId: ev.CurrencyId,
				Recipient:  ethcommon.BytesToAddress(vlog.Topics[2].Bytes()),
				Units:      ev.Units,
			},
		}
		if len(ev.Message) > 0 {
			tx.Message = &Message{Data: ev.Message, Encrypted: ev.Encrypted}
		}
		b.Transactions = append(b.Transactions, tx)
	}
	return b, nil
}
