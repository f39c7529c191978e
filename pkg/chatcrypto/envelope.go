package chatcrypto

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// envelopeSeparator splits the envelope length header from the hex fields.
const envelopeSeparator = "-----*****-----"

// Envelope is the decoded private-message body: the symmetric session key
// sealed to the recipient (E), the sealed IV, and the ciphertext. The server
// forwards the encoded form without ever parsing it.
type Envelope struct {
	E  []byte
	IV []byte
	CT []byte
}

// EncodeEnvelope renders the wire form
// [e_hex:e_raw:iv_hex:iv_raw:ct_hex:ct_raw]-----*****-----EhexIVhexCThex.
func EncodeEnvelope(env Envelope) string {
	eh := hex.EncodeToString(env.E)
	ivh := hex.EncodeToString(env.IV)
	cth := hex.EncodeToString(env.CT)
	var b strings.Builder
	fmt.Fprintf(&b, "[%d:%d:%d:%d:%d:%d]",
		len(eh), len(env.E), len(ivh), len(env.IV), len(cth), len(env.CT))
	b.WriteString(envelopeSeparator)
	b.WriteString(eh)
	b.WriteString(ivh)
	b.WriteString(cth)
	return b.String()
}

// DecodeEnvelope parses the wire form back. Every length in the header must
// agree with the hex payload that follows.
func DecodeEnvelope(s string) (Envelope, error) {
	var env Envelope
	if len(s) < 2 || s[0] != '[' {
		return env, ErrInvalidEnvelope
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return env, ErrInvalidEnvelope
	}
	parts := strings.Split(s[1:end], ":")
	if len(parts) != 6 {
		return env, ErrInvalidEnvelope
	}
	lens := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return env, ErrInvalidEnvelope
		}
		lens[i] = n
	}
	rest := s[end+1:]
	if !strings.HasPrefix(rest, envelopeSeparator) {
		return env, ErrInvalidEnvelope
	}
	rest = rest[len(envelopeSeparator):]

	eHex, ivHex, ctHex := lens[0], lens[2], lens[4]
	if len(rest) != eHex+ivHex+ctHex {
		return env, ErrInvalidEnvelope
	}
	var err error
	if env.E, err = decodeHexField(rest[:eHex], lens[1]); err != nil {
		return Envelope{}, err
	}
	rest = rest[eHex:]
	if env.IV, err = decodeHexField(rest[:ivHex], lens[3]); err != nil {
		return Envelope{}, err
	}
	rest = rest[ivHex:]
	if env.CT, err = decodeHexField(rest, lens[5]); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func decodeHexField(h string, rawLen int) ([]byte, error) {
	raw, err := hex.DecodeString(h)
	if err != nil || len(raw) != rawLen {
		return nil, ErrInvalidEnvelope
	}
	return raw, nil
}

// SealMessage encrypts plaintext for the holder of recipientPub: a fresh
// symmetric key encrypts the plaintext, then the key and the IV are each
// sealed to the recipient's public key. Returns the encoded envelope that
// travels as an opaque message body.
func SealMessage(ac AsymmetricCryptor, recipientPub, plaintext []byte) (string, error) {
	sym, err := GenerateAEADCryptor()
	if err != nil {
		return "", err
	}
	ct, iv, err := sym.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	sealedKey, err := ac.Seal(recipientPub, sym.Key())
	if err != nil {
		return "", err
	}
	sealedIV, err := ac.Seal(recipientPub, iv)
	if err != nil {
		return "", err
	}
	return EncodeEnvelope(Envelope{E: sealedKey, IV: sealedIV, CT: ct}), nil
}

// OpenMessage reverses SealMessage using the recipient's AsymmetricCryptor.
func OpenMessage(ac AsymmetricCryptor, envelope string) ([]byte, error) {
	env, err := DecodeEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	key, err := ac.Open(env.E)
	if err != nil {
		return nil, err
	}
	iv, err := ac.Open(env.IV)
	if err != nil {
		return nil, err
	}
	sym, err := NewAEADCryptor(key)
	if err != nil {
		return nil, err
	}
	return sym.Decrypt(env.CT, iv)
}
