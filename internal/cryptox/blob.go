package cryptox

import (
	"fmt"

	"github.com/dmitrijs2005/vaultguard/internal/common"
)

// EncryptedBlob is the at-rest envelope of a protected payload.
//
// KeyMaterial holds the per-blob data key wrapped by a key-encryption key
// (wrap nonce followed by the wrapped key). Checksum is the SHA-256 of the
// plaintext; it detects corruption, it does not authenticate.
type EncryptedBlob struct {
	Algorithm   string
	KeyMaterial []byte
	IV          []byte
	Ciphertext  []byte
	Checksum    string
}

// Seal encrypts plaintext under a freshly generated data key and wraps that
// key with kek. The checksum is computed before encryption.
func Seal(plaintext, kek []byte) (*EncryptedBlob, error) {
	checksum := Checksum(plaintext)

	dataKey := GenerateKey()
	defer common.WipeByteArray(dataKey)

	iv, ciphertext, err := Encrypt(plaintext, dataKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}

	wrapIV, wrapped, err := Encrypt(dataKey, kek)
	if err != nil {
		return nil, fmt.Errorf("wrap data key: %w", err)
	}

	return &EncryptedBlob{
		Algorithm:   Algorithm,
		KeyMaterial: append(wrapIV, wrapped...),
		IV:          iv,
		Ciphertext:  ciphertext,
		Checksum:    checksum,
	}, nil
}

// Open unwraps the data key with kek, decrypts the payload and verifies the
// stored checksum. Every failure past key validation is ErrCorruptPayload.
func Open(blob *EncryptedBlob, kek []byte) ([]byte, error) {
	if blob == nil {
		return nil, fmt.Errorf("%w: empty blob", common.ErrCorruptPayload)
	}
	if blob.Algorithm != "" && blob.Algorithm != Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", common.ErrCorruptPayload, blob.Algorithm)
	}
	if len(blob.KeyMaterial) <= NonceSize {
		return nil, fmt.Errorf("%w: truncated key material", common.ErrCorruptPayload)
	}

	dataKey, err := Decrypt(blob.KeyMaterial[NonceSize:], kek, blob.KeyMaterial[:NonceSize])
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	defer common.WipeByteArray(dataKey)

	plaintext, err := Decrypt(blob.Ciphertext, dataKey, blob.IV)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}

	if Checksum(plaintext) != blob.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", common.ErrCorruptPayload)
	}

	return plaintext, nil
}
