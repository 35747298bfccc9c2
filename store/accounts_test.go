package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tokex-io/bridge-go/common"
)

func TestAccountMostRecentWins(t *testing.T) {
	s := getTestStore(t)

	hostId := common.RandEthAddress()
	first := &Account{
		CoinAddress:     "bcrt1q" + common.ByteSliceToPureHexStr(common.RandBytes(16)),
		DerivationIndex: 0,
		HostAccountId:   hostId,
		CreatedAt:       1000,
	}
	second := &Account{
		CoinAddress:     "bcrt1q" + common.ByteSliceToPureHexStr(common.RandBytes(16)),
		DerivationIndex: 1,
		HostAccountId:   hostId,
		HostPublicKey:   common.RandBytes(33),
		CreatedAt:       2000,
	}
	assert.NoError(t, s.InsertAccount(first))
	assert.NoError(t, s.InsertAccount(second))

	got, ok, err := s.GetAccountByHostId(hostId)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, second.CoinAddress, got.CoinAddress)
	assert.Equal(t, second.HostPublicKey, got.HostPublicKey)

	// old addresses still resolve back to the host account
	got, ok, err = s.GetAccountByCoinAddress(first.CoinAddress)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, hostId, got.HostAccountId)

	_, ok, err = s.GetAccountByHostId(common.RandEthAddress())
	assert.NoError(t, err)
	assert.False(t, ok)

	all, err := s.ListAccounts()
	assert.NoError(t, err)
	assert.Len(t, all, 2)
}
