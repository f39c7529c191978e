package chatcrypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// boxKeySize is the X25519 public key size in bytes.
const boxKeySize = 32

// boxInfo labels the HKDF derivation so sealed boxes from other protocols
// never open here.
var boxInfo = []byte("chatserver-e2ee-v1:sealed-box")

// Box is the reference AsymmetricCryptor: an X25519 keypair opening
// anonymous sealed boxes. Seal uses an ephemeral keypair per payload, so
// sealing requires only the recipient's public key.
type Box struct {
	priv *ecdh.PrivateKey
}

// NewBox generates a fresh X25519 keypair.
func NewBox() (*Box, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Box{priv: priv}, nil
}

// PublicKey returns the 32-byte X25519 public key.
func (b *Box) PublicKey() []byte {
	return b.priv.PublicKey().Bytes()
}

// Seal encrypts plain to peerPub: ephemeral X25519 ECDH, HKDF-SHA256 key
// derivation salted with both public keys, ChaCha20-Poly1305. The output is
// the ephemeral public key followed by the ciphertext.
func (b *Box) Seal(peerPub, plain []byte) ([]byte, error) {
	curve := ecdh.X25519()
	rpk, err := curve.NewPublicKey(peerPub)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	eph, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	shared, err := eph.ECDH(rpk)
	if err != nil {
		return nil, err
	}
	epk := eph.PublicKey().Bytes()
	key, err := boxKey(shared, epk, peerPub)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize) // fresh key per seal
	out := make([]byte, 0, len(epk)+len(plain)+aead.Overhead())
	out = append(out, epk...)
	return aead.Seal(out, nonce, plain, nil), nil
}

// Open decrypts a payload sealed to this keypair.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < boxKeySize+chacha20poly1305.Overhead {
		return nil, ErrSealedTooShort
	}
	curve := ecdh.X25519()
	epk, err := curve.NewPublicKey(sealed[:boxKeySize])
	if err != nil {
		return nil, ErrSealedTooShort
	}
	shared, err := b.priv.ECDH(epk)
	if err != nil {
		return nil, err
	}
	key, err := boxKey(shared, sealed[:boxKeySize], b.PublicKey())
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	plain, err := aead.Open(nil, nonce, sealed[boxKeySize:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

// boxKey derives the per-box AEAD key from the ECDH shared secret.
func boxKey(shared, ephemeralPub, recipientPub []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeralPub)+len(recipientPub))
	salt = append(salt, ephemeralPub...)
	salt = append(salt, recipientPub...)

	r := hkdf.New(sha256.New, shared, salt, boxInfo)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Verify Box implements AsymmetricCryptor.
var _ AsymmetricCryptor = (*Box)(nil)
