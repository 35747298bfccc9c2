package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tokex-io/bridge-go/common"
)

func TestInsertRedemptionIdempotent(t *testing.T) {
	s := getTestStore(t)

	r := randRedemption()
	inserted, err := s.InsertRedemption(r)
	assert.NoError(t, err)
	assert.True(t, inserted)

	// re-delivery of the same host tx is a no-op
	inserted, err = s.InsertRedemption(r)
	assert.NoError(t, err)
	assert.False(t, inserted)

	got, ok, err := s.GetRedemption(r.HostTxId)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, r.Sender, got.Sender)
	assert.Equal(t, r.TokenAmount, got.TokenAmount)
	assert.Equal(t, r.CoinAmount, got.CoinAmount)
	assert.Equal(t, r.Destination, got.Destination)
	assert.False(t, got.Exchanged)
}

func TestMarkRedemptionExchangedOneWay(t *testing.T) {
	s := getTestStore(t)

	r := randRedemption()
	_, err := s.InsertRedemption(r)
	assert.NoError(t, err)

	coinTxId := common.ByteSliceToPureHexStr(common.RandBytes(32))
	assert.NoError(t, s.MarkRedemptionExchanged(r.HostTxId, coinTxId))

	got, _, err := s.GetRedemption(r.HostTxId)
	assert.NoError(t, err)
	assert.True(t, got.Exchanged)
	assert.Equal(t, coinTxId, got.CoinTxId)

	// the bit is one-way, a second settlement attempt must be rejected
	err = s.MarkRedemptionExchanged(r.HostTxId, common.ByteSliceToPureHexStr(common.RandBytes(32)))
	assert.ErrorIs(t, err, ErrAlreadyExchanged)

	unknown := common.HexStrToHash(common.ByteSliceToPureHexStr(common.RandBytes(32)))
	err = s.MarkRedemptionExchanged(unknown, coinTxId)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEligibleRedemptionsConfirmationGate(t *testing.T) {
	s := getTestStore(t)

	early := randRedemption()
	early.BlockHeight = 50
	late := randRedemption()
	late.BlockHeight = 60
	for _, r := range []*Redemption{late, early} {
		_, err := s.InsertRedemption(r)
		assert.NoError(t, err)
	}

	got, err := s.EligibleRedemptions(55)
	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, early.HostTxId, got[0].HostTxId)

	got, err = s.EligibleRedemptions(60)
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	// oldest first
	assert.Equal(t, early.HostTxId, got[0].HostTxId)
	assert.Equal(t, late.HostTxId, got[1].HostTxId)

	assert.NoError(t, s.MarkRedemptionExchanged(early.HostTxId, common.ByteSliceToPureHexStr(common.RandBytes(32))))
	got, err = s.EligibleRedemptions(60)
	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, late.HostTxId, got[0].HostTxId)
}

func TestDeleteRedemptionOnlyUnexchanged(t *testing.T) {
	s := getTestStore(t)

	r := randRedemption()
	_, err := s.InsertRedemption(r)
	assert.NoError(t, err)
	assert.NoError(t, s.MarkRedemptionExchanged(r.HostTxId, common.ByteSliceToPureHexStr(common.RandBytes(32))))

	// settled rows are immutable history
	assert.ErrorIs(t, s.DeleteRedemption(r.HostTxId), ErrNotFound)

	pending := randRedemption()
	_, err = s.InsertRedemption(pending)
	assert.NoError(t, err)
	assert.NoError(t, s.DeleteRedemption(pending.HostTxId))

	_, ok, err := s.GetRedemption(pending.HostTxId)
	assert.NoError(t, err)
	assert.False(t, ok)

	n, err := s.CountPendingRedemptions()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
