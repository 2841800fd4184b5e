package agentreg

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// GenerateKeyPair creates a fresh Ed25519 key pair for a new agent. The
// public key is stored on the Agent record; the private key is returned
// exactly once, in the create-agent HTTP response, and is never stored
// server-side.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("agentreg: generate key pair: %w", err)
	}
	return KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}
