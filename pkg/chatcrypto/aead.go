package chatcrypto

import (
	"crypto/cipher"
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
)

// Symmetric cipher sizes.
const (
	// SymmetricKeySize is the ChaCha20-Poly1305 key size in bytes.
	SymmetricKeySize = chacha20poly1305.KeySize

	// IVSize is the nonce size in bytes, carried as the envelope IV field.
	IVSize = chacha20poly1305.NonceSize
)

// AEADCryptor is the reference symmetric Cryptor: ChaCha20-Poly1305 with a
// fresh random nonce per message, returned as the IV.
type AEADCryptor struct {
	key  []byte
	aead cipher.AEAD
}

// NewAEADCryptor builds a Cryptor around an existing SymmetricKeySize key.
func NewAEADCryptor(key []byte) (*AEADCryptor, error) {
	if len(key) != SymmetricKeySize {
		return nil, ErrInvalidKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	k := make([]byte, SymmetricKeySize)
	copy(k, key)
	return &AEADCryptor{key: k, aead: aead}, nil
}

// GenerateAEADCryptor builds a Cryptor around a fresh random key.
func GenerateAEADCryptor() (*AEADCryptor, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return NewAEADCryptor(key)
}

// Encrypt seals plain under a fresh random nonce and returns (ct, iv).
func (c *AEADCryptor) Encrypt(plain []byte) ([]byte, []byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	ct := c.aead.Seal(nil, iv, plain, nil)
	return ct, iv, nil
}

// Decrypt opens ct under iv.
func (c *AEADCryptor) Decrypt(ct, iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, ErrInvalidKeySize
	}
	plain, err := c.aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

// Key returns a copy of the symmetric key.
func (c *AEADCryptor) Key() []byte {
	k := make([]byte, len(c.key))
	copy(k, c.key)
	return k
}

// Verify AEADCryptor implements Cryptor.
var _ Cryptor = (*AEADCryptor)(nil)
