package keycrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	apperr "github.com/obverse/obverse/internal/errors"
)

const (
	// DefaultIterations is the PBKDF2 work factor used for new wallets.
	DefaultIterations = 100000
	// KeySize is the derived key length in bytes (AES-256).
	KeySize = 32
	// SaltSize is the length of freshly generated salts.
	SaltSize = 16

	blobVersion = "v1"
)

// Material bundles the inputs of a key derivation.
type Material struct {
	Password   string
	Salt       []byte
	Iterations int
}

// Key derives the symmetric key described by m.
func (m Material) Key() ([]byte, error) {
	return DeriveKey(m.Password, m.Salt, m.Iterations)
}

// DeriveKey runs PBKDF2-HMAC-SHA256 and returns a 32-byte key.
func DeriveKey(password string, salt []byte, iterations int) ([]byte, error) {
	if password == "" {
		return nil, apperr.Validation("derivation password is required")
	}
	if len(salt) == 0 {
		return nil, apperr.Validation("derivation salt is required")
	}
	if iterations < 1 {
		return nil, apperr.Validation("iteration count must be positive")
	}
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New), nil
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "generate salt", err)
	}
	return salt, nil
}

// Encrypt seals plaintext with AES-256-GCM. The returned blob is
// "v1." followed by base64url(nonce || ciphertext || tag).
func Encrypt(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "generate nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return blobVersion + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure, including a wrong
// key, is reported as a decryption error.
func Decrypt(blob string, key []byte) ([]byte, error) {
	version, payload, ok := strings.Cut(blob, ".")
	if !ok || version != blobVersion {
		return nil, apperr.New(apperr.CodeDecryption, "unrecognised key blob")
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDecryption, "decode key blob", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDecryption, "prepare cipher", err)
	}
	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return nil, apperr.New(apperr.CodeDecryption, "key blob too short")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperr.New(apperr.CodeDecryption, "authentication failed")
	}
	return plaintext, nil
}

// Wipe overwrites b with zeroes.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, apperr.Validation(fmt.Sprintf("key must be %d bytes", KeySize))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "create gcm", err)
	}
	return gcm, nil
}
