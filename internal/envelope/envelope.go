// Package envelope implements credential sealing: a random per-secret data
// key encrypts the plaintext, and the process-wide KEK (key-encryption-key)
// encrypts the data key. Both layers use AES-256-GCM. Unsealing fails closed
// on any authentication-tag mismatch.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrIntegrity is returned when any AEAD tag fails to verify during unseal.
var ErrIntegrity = errors.New("envelope: integrity_error")

// kekSize is the required length of the key-encryption-key, in bytes.
const kekSize = 32

// dataKeySize is the length of the random per-secret data-encryption key.
const dataKeySize = 32

// Sealed is the wire/storage form of a sealed secret. All fields are
// base64-standard encoded so the struct round-trips cleanly through JSON.
type Sealed struct {
	NonceOuter    string `json:"nonceOuter"`
	NonceInner    string `json:"nonceInner"`
	CiphertextKey string `json:"ciphertextKey"`
	CiphertextData string `json:"ciphertextData"`
}

// ParseKEK decodes the KEK_BASE64 configuration value. It must decode to
// exactly 32 bytes.
func ParseKEK(base64KEK string) ([]byte, error) {
	kek, err := base64.StdEncoding.DecodeString(base64KEK)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode KEK_BASE64: %w", err)
	}
	if len(kek) != kekSize {
		return nil, fmt.Errorf("envelope: KEK must decode to %d bytes, got %d", kekSize, len(kek))
	}
	return kek, nil
}

// Seal generates a random 256-bit data-encryption key, encrypts plaintext
// with it, then wraps the data key with kek. Both layers are independent
// AES-256-GCM instances with their own nonce, so a compromise of one layer's
// nonce does not affect the other's.
func Seal(plaintext, kek []byte) (Sealed, error) {
	if len(kek) != kekSize {
		return Sealed{}, fmt.Errorf("envelope: kek must be %d bytes", kekSize)
	}

	dataKey := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return Sealed{}, fmt.Errorf("envelope: generate data key: %w", err)
	}

	innerGCM, err := newGCM(dataKey)
	if err != nil {
		return Sealed{}, err
	}
	nonceInner := make([]byte, innerGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonceInner); err != nil {
		return Sealed{}, fmt.Errorf("envelope: generate inner nonce: %w", err)
	}
	ciphertextData := innerGCM.Seal(nil, nonceInner, plaintext, nil)

	outerGCM, err := newGCM(kek)
	if err != nil {
		return Sealed{}, err
	}
	nonceOuter := make([]byte, outerGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonceOuter); err != nil {
		return Sealed{}, fmt.Errorf("envelope: generate outer nonce: %w", err)
	}
	ciphertextKey := outerGCM.Seal(nil, nonceOuter, dataKey, nil)

	return Sealed{
		NonceOuter:     base64.StdEncoding.EncodeToString(nonceOuter),
		NonceInner:     base64.StdEncoding.EncodeToString(nonceInner),
		CiphertextKey:  base64.StdEncoding.EncodeToString(ciphertextKey),
		CiphertextData: base64.StdEncoding.EncodeToString(ciphertextData),
	}, nil
}

// Unseal reverses Seal. Any AEAD tag mismatch at either layer returns
// ErrIntegrity; the sealed blob is never partially trusted.
func Unseal(sealed Sealed, kek []byte) ([]byte, error) {
	if len(kek) != kekSize {
		return nil, fmt.Errorf("envelope: kek must be %d bytes", kekSize)
	}

	nonceOuter, err := base64.StdEncoding.DecodeString(sealed.NonceOuter)
	if err != nil {
		return nil, fmt.Errorf("%w: decode outer nonce: %v", ErrIntegrity, err)
	}
	ciphertextKey, err := base64.StdEncoding.DecodeString(sealed.CiphertextKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext key: %v", ErrIntegrity, err)
	}
	nonceInner, err := base64.StdEncoding.DecodeString(sealed.NonceInner)
	if err != nil {
		return nil, fmt.Errorf("%w: decode inner nonce: %v", ErrIntegrity, err)
	}
	ciphertextData, err := base64.StdEncoding.DecodeString(sealed.CiphertextData)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext data: %v", ErrIntegrity, err)
	}

	outerGCM, err := newGCM(kek)
	if err != nil {
		return nil, err
	}
	dataKey, err := outerGCM.Open(nil, nonceOuter, ciphertextKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap data key", ErrIntegrity)
	}
	defer zero(dataKey)

	innerGCM, err := newGCM(dataKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := innerGCM.Open(nil, nonceInner, ciphertextData, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt payload", ErrIntegrity)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: new GCM: %w", err)
	}
	return gcm, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
