package crypto

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"github.com/tjfoc/gmsm/sm4"
)

const sm4GCMNonceSize = 12

// sm4GCM implements BlockCrypt using SM4-GCM via github.com/tjfoc/gmsm, the
// national-standard block cipher the teacher's go.mod already depends on
// alongside golang.org/x/crypto for exactly this kind of pluggable
// BlockCrypt, per safeudp.go's Config.Key field.
type sm4GCM struct {
	key []byte
}

// NewSM4GCM builds a BlockCrypt from a 16-byte SM4 key.
func NewSM4GCM(key []byte) (BlockCrypt, error) {
	if len(key) != sm4.BlockSize {
		return nil, errors.Errorf("rsfec/crypto: sm4 key must be %d bytes, got %d", sm4.BlockSize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &sm4GCM{key: k}, nil
}

// Encrypt prepends a random nonce, then seals with SM4-GCM, appending the
// 16-byte authentication tag.
func (c *sm4GCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, sm4GCMNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "rsfec/crypto: nonce generation")
	}
	ciphertext, tag, err := sm4.Sm4GCM(c.key, nonce, plaintext, nil, true)
	if err != nil {
		return nil, errors.Wrap(err, "rsfec/crypto: sm4-gcm seal")
	}
	out := make([]byte, 0, len(nonce)+len(ciphertext)+len(tag))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// Decrypt reverses Encrypt: splits nonce, ciphertext and tag, then opens
// and verifies with SM4-GCM.
func (c *sm4GCM) Decrypt(ciphertext []byte) ([]byte, error) {
	const tagSize = 16
	if len(ciphertext) < sm4GCMNonceSize+tagSize {
		return nil, errors.New("rsfec/crypto: ciphertext shorter than nonce+tag")
	}
	nonce := ciphertext[:sm4GCMNonceSize]
	tag := ciphertext[len(ciphertext)-tagSize:]
	body := ciphertext[sm4GCMNonceSize : len(ciphertext)-tagSize]

	plain, gotTag, err := sm4.Sm4GCM(c.key, nonce, body, nil, false)
	if err != nil {
		return nil, errors.Wrap(err, "rsfec/crypto: sm4-gcm open")
	}
	if !constantTimeEqual(gotTag, tag) {
		return nil, errors.New("rsfec/crypto: sm4-gcm authentication failed")
	}
	return plain, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
