// Package chatcrypto provides the cryptographic capabilities the chat
// system consumes through interfaces: a symmetric Cryptor, an asymmetric
// AsymmetricCryptor, password hashing, and the private-message envelope
// codec.
//
// The server itself never calls into this package for message content; it
// treats keys and ciphertexts as opaque bytes. Clients and tests use the
// reference implementations (ChaCha20-Poly1305 and an X25519 sealed box)
// to exercise the end-to-end encryption path.
package chatcrypto

import "errors"

// Crypto errors.
var (
	ErrInvalidKeySize  = errors.New("chatcrypto: invalid key size")
	ErrInvalidEnvelope = errors.New("chatcrypto: malformed envelope")
	ErrSealedTooShort  = errors.New("chatcrypto: sealed data too short")
	ErrDecryptFailed   = errors.New("chatcrypto: decryption failed")
)

// Cryptor is a symmetric encrypt/decrypt capability. Encrypt returns the
// ciphertext and the fresh IV it used; Decrypt reverses it.
type Cryptor interface {
	Encrypt(plain []byte) (ct, iv []byte, err error)
	Decrypt(ct, iv []byte) ([]byte, error)

	// Key exposes the raw symmetric key so it can be sealed to a peer.
	Key() []byte
}

// AsymmetricCryptor is a keypair capability: it publishes a public key and
// opens payloads sealed to it. Seal addresses a payload to someone else's
// public key; the sender stays anonymous.
type AsymmetricCryptor interface {
	PublicKey() []byte
	Seal(peerPub, plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}
