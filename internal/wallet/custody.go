package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/obverse/obverse/internal/chain"
	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/keycrypto"
	"github.com/obverse/obverse/internal/tokens"
)

// Custody creates custodial wallets and recovers their signing keys. Secret
// key bytes exist in memory only inside these methods and in the keypair
// handed to the caller.
type Custody struct {
	repo       Repository
	tokens     *tokens.Registry
	iterations int
	now        func() time.Time
}

// NewCustody builds a custody component. iterations applies to new wallets;
// existing wallets keep the work factor they were created with.
func NewCustody(repo Repository, registry *tokens.Registry, iterations int) *Custody {
	if iterations < 1 {
		iterations = keycrypto.DefaultIterations
	}
	return &Custody{repo: repo, tokens: registry, iterations: iterations, now: time.Now}
}

// GenerateKeypair creates a fresh signing keypair.
func (c *Custody) GenerateKeypair() (*chain.Keypair, error) {
	return chain.GenerateKeypair()
}

// CreateCustodialWallet generates a keypair, encrypts it under a key derived
// from secret and salt, and persists the wallet. A nil salt draws a fresh
// random per-wallet salt.
func (c *Custody) CreateCustodialWallet(ctx context.Context, userID string, secret Secret, salt []byte) (Wallet, error) {
	if userID == "" {
		return Wallet{}, apperr.Validation("user id is required")
	}
	if len(salt) == 0 {
		var err error
		if salt, err = keycrypto.NewSalt(); err != nil {
			return Wallet{}, err
		}
	}

	kp, err := c.GenerateKeypair()
	if err != nil {
		return Wallet{}, err
	}
	defer kp.Wipe()

	address := kp.Address()
	if _, err := c.repo.GetByAddress(ctx, address); err == nil {
		return Wallet{}, apperr.New(apperr.CodeDuplicateAddress, "generated address already registered")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Wallet{}, err
	}

	blob, err := seal(kp, secret.Value, salt, c.iterations)
	if err != nil {
		return Wallet{}, err
	}

	now := c.now().UTC()
	w := Wallet{
		ID:            uuid.NewString(),
		UserID:        userID,
		Chain:         ChainSolana,
		Address:       address,
		EncryptedKey:  blob,
		KeySalt:       append([]byte(nil), salt...),
		KDFIterations: c.iterations,
		SecretID:      secret.ID,
		Tokens:        c.initialTokens(),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.repo.Create(ctx, w); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// RestoreSigningKey decrypts the wallet's key and checks that it still
// controls the wallet's address. The caller must Wipe the returned keypair.
func (c *Custody) RestoreSigningKey(w Wallet, password string) (*chain.Keypair, error) {
	iterations := w.KDFIterations
	if iterations < 1 {
		iterations = keycrypto.DefaultIterations
	}
	key, err := keycrypto.DeriveKey(password, w.KeySalt, iterations)
	if err != nil {
		return nil, err
	}
	defer keycrypto.Wipe(key)

	raw, err := keycrypto.Decrypt(w.EncryptedKey, key)
	if err != nil {
		return nil, err
	}
	defer keycrypto.Wipe(raw)

	kp, err := chain.KeypairFromBytes(raw)
	if err != nil {
		return nil, err
	}
	if kp.Address() != w.Address {
		kp.Wipe()
		return nil, apperr.New(apperr.CodeKeyMismatch, "restored key does not control wallet address")
	}
	return kp, nil
}

// RotateKey re-encrypts the wallet key under next and a fresh salt. The
// stored blob and its secret id are replaced atomically; on any failure they
// are left untouched.
func (c *Custody) RotateKey(ctx context.Context, w Wallet, oldPassword string, next Secret) (Wallet, error) {
	if next.Value == "" {
		return Wallet{}, apperr.Validation("new master secret is required")
	}
	kp, err := c.RestoreSigningKey(w, oldPassword)
	if err != nil {
		return Wallet{}, err
	}
	defer kp.Wipe()

	salt, err := keycrypto.NewSalt()
	if err != nil {
		return Wallet{}, err
	}
	blob, err := seal(kp, next.Value, salt, c.iterations)
	if err != nil {
		return Wallet{}, err
	}

	material := KeyMaterial{EncryptedKey: blob, Salt: salt, KDFIterations: c.iterations, SecretID: next.ID}
	now := c.now().UTC()
	if err := c.repo.ReplaceKey(ctx, w.ID, w.EncryptedKey, material, now); err != nil {
		return Wallet{}, err
	}

	w.EncryptedKey = material.EncryptedKey
	w.KeySalt = material.Salt
	w.KDFIterations = material.KDFIterations
	w.SecretID = material.SecretID
	w.UpdatedAt = now
	return w, nil
}

func (c *Custody) initialTokens() []Token {
	native := c.tokens.Native()
	out := []Token{{Symbol: native.Symbol, Balance: "0", ContractAddress: native.Mint, Decimals: native.Decimals}}
	for _, t := range c.tokens.Stablecoins() {
		out = append(out, Token{Symbol: t.Symbol, Balance: "0", ContractAddress: t.Mint, Decimals: t.Decimals})
	}
	return out
}

func seal(kp *chain.Keypair, password string, salt []byte, iterations int) (string, error) {
	key, err := keycrypto.DeriveKey(password, salt, iterations)
	if err != nil {
		return "", err
	}
	defer keycrypto.Wipe(key)

	secret := kp.Bytes()
	defer keycrypto.Wipe(secret)
	return keycrypto.Encrypt(secret, key)
}
