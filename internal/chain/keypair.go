package chain

import (
	"bytes"
	"crypto/ed25519"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	apperr "github.com/obverse/obverse/internal/errors"
)

// Keypair holds an ed25519 signing key in memory. Call Wipe as soon as the
// key is no longer needed.
type Keypair struct {
	key solana.PrivateKey
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (*Keypair, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "generate keypair", err)
	}
	return &Keypair{key: key}, nil
}

// KeypairFromBytes rebuilds a keypair from its 64-byte secret encoding. The
// public half is recomputed from the seed, so a corrupted public half is
// rejected.
func KeypairFromBytes(raw []byte) (*Keypair, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, apperr.New(apperr.CodeKeyMismatch, "secret key has wrong length")
	}
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, apperr.New(apperr.CodeKeyMismatch, "secret key halves disagree")
	}
	return &Keypair{key: solana.PrivateKey(derived)}, nil
}

// PublicKey returns the Solana public key.
func (k *Keypair) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

// Address returns the base58 address.
func (k *Keypair) Address() string {
	return k.key.PublicKey().String()
}

// Bytes returns a copy of the 64-byte secret encoding.
func (k *Keypair) Bytes() []byte {
	out := make([]byte, len(k.key))
	copy(out, k.key)
	return out
}

// Wipe zeroes the secret key. The keypair is unusable afterwards.
func (k *Keypair) Wipe() {
	if k == nil {
		return
	}
	for i := range k.key {
		k.key[i] = 0
	}
	k.key = nil
}

func (k *Keypair) privateKey() *solana.PrivateKey {
	return &k.key
}

// ParseAddress validates a base58 Solana address.
func ParseAddress(address string) (solana.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, apperr.Validation("invalid Solana address")
	}
	return solana.PublicKeyFromBytes(raw), nil
}
