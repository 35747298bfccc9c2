package hostledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
)

func TestOpenMessagePlain(t *testing.T) {
	priv, err := crypto.GenerateKey()
	assert.NoError(t, err)

	tx := &Transaction{Message: &Message{Data: []byte("mxAddr123")}}
	plain, err := OpenMessage(tx, priv)
	assert.NoError(t, err)
	assert.Equal(t, []byte("mxAddr123"), plain)
}

func TestOpenMessageEncrypted(t *testing.T) {
	priv, err := crypto.GenerateKey()
	assert.NoError(t, err)

	ct, err := SealMessage([]byte("mxAddr123"), &priv.PublicKey)
	assert.NoError(t, err)

	tx := &Transaction{Message: &Message{Data: ct, Encrypted: true}}
	plain, err := OpenMessage(tx, priv)
	assert.NoError(t, err)
	assert.Equal(t, []byte("mxAddr123"), plain)
}

func TestOpenMessageWrongKey(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()

	ct, err := SealMessage([]byte("mxAddr123"), &priv.PublicKey)
	assert.NoError(t, err)

	tx := &Transaction{Message: &Message{Data: ct, Encrypted: true}}
	_, err = OpenMessage(tx, other)
	assert.Error(t, err)
}

func TestOpenMessageMissing(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	_, err := OpenMessage(&Transaction{}, priv)
	assert.ErrorIs(t, err, ErrNoMessage)
}
