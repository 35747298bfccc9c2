package keychain

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const saltSize = 16

// seedInfo binds derived keys to this purpose so a reused passphrase
// elsewhere never yields the same cipher key.
var seedInfo = []byte("bridge wallet seed v1")

var ErrBadPassphrase = errors.New("cannot decrypt wallet seed (wrong passphrase or corrupt data)")

// EncryptSeed seals the master seed under a key derived from the
// passphrase. Output layout: salt || nonce || ciphertext.
func EncryptSeed(seed []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := seedCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	blob := make([]byte, 0, saltSize+len(nonce)+len(seed)+aead.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	return aead.Seal(blob, nonce, seed, nil), nil
}

// DecryptSeed opens a blob produced by EncryptSeed.
func DecryptSeed(blob []byte, passphrase string) ([]byte, error) {
	if len(blob) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, ErrBadPassphrase
	}
	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	aead, err := seedCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}
	seed, err := aead.Open(nil, nonce, blob[saltSize+chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return seed, nil
}

func seedCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(passphrase), salt, seedInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}
