// Package cryptox implements the symmetric primitives used to protect vault
// payloads at rest: AES-256-GCM encryption with a fresh nonce per call,
// SHA-256 checksums of plaintexts, and per-item data keys wrapped by an
// argon2id-derived key-encryption key.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"golang.org/x/crypto/argon2"
)

// Algorithm names the cipher recorded on every EncryptedBlob.
const Algorithm = "AES-256-GCM"

// KeySize is the width of data keys and key-encryption keys in bytes.
const KeySize = 32

// NonceSize is the GCM nonce width in bytes.
const NonceSize = 12

// GenerateKey returns a fresh random data key.
func GenerateKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// DeriveKeyEncryptionKey stretches secret with argon2id. The salt scopes the
// derived key, so different owners never share a key-encryption key.
func DeriveKeyEncryptionKey(secret []byte, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, KeySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrValidation, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with key. A new random nonce is drawn for every
// call and returned as iv.
func Encrypt(plaintext, key []byte) (iv, ciphertext []byte, err error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	iv = common.GenerateRandByteArray(aesgcm.NonceSize())
	ciphertext = aesgcm.Seal(nil, iv, plaintext, nil)

	return iv, ciphertext, nil
}

// Decrypt opens ciphertext produced by Encrypt. Any authentication failure,
// including a truncated or tampered ciphertext, is reported as
// common.ErrCorruptPayload.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length %d", common.ErrCorruptPayload, len(iv))
	}

	plaintext, err := aesgcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCorruptPayload, err)
	}

	return plaintext, nil
}

// Checksum returns the hex-encoded SHA-256 digest of b.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
