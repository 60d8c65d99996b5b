package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// aesGCM implements BlockCrypt using AES-256-GCM. The pre-shared key
// (Config.Key in the teacher's safeudp.go) is run through HKDF-SHA256
// (golang.org/x/crypto/hkdf) to derive the actual AES-256 key, rather than
// truncating/padding it directly -- matching the teacher's go.mod
// dependency on golang.org/x/crypto, which the teacher declared but never
// wired to a concrete cipher.
type aesGCM struct {
	aead cipher.AEAD
}

// NewAESGCM derives a 32-byte AES-256 key from psk via HKDF-SHA256 and
// builds a BlockCrypt around it.
func NewAESGCM(psk []byte, salt []byte) (BlockCrypt, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, psk, salt, []byte("rsfec/crypto aes-gcm"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "rsfec/crypto: key derivation")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "rsfec/crypto: aes key setup")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "rsfec/crypto: gcm setup")
	}
	return &aesGCM{aead: aead}, nil
}

// Encrypt prepends a random nonce to the sealed ciphertext.
func (c *aesGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "rsfec/crypto: nonce generation")
	}
	out := make([]byte, len(nonce), len(nonce)+len(plaintext)+c.aead.Overhead())
	copy(out, nonce)
	return c.aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt reads back the nonce prepended by Encrypt and opens the sealed payload.
func (c *aesGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, errors.New("rsfec/crypto: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:n], ciphertext[n:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rsfec/crypto: gcm open")
	}
	return plain, nil
}
