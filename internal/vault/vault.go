// Package vault encrypts long-lived access tokens before they reach the
// database. Ciphertext is authenticated; tampering is detected on decrypt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32
	iterations = 100000
)

// keySalt binds derived keys to this vault. Rotating the configured key
// requires re-encrypting every stored token.
var keySalt = []byte("schoolboard/token-vault/v1")

// Vault errors
var (
	ErrKeyMissing = errors.New("vault encryption key is not configured")
	ErrEmptyInput = errors.New("vault input is empty")
	ErrDecrypt    = errors.New("vault ciphertext is invalid or was tampered with")
)

// Vault performs symmetric encryption of credentials at rest
type Vault struct {
	aead cipher.AEAD
}

// New creates a vault from the configured encryption key
func New(key string) (*Vault, error) {
	if key == "" {
		return nil, ErrKeyMissing
	}

	derived := pbkdf2.Key([]byte(key), keySalt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals a plaintext token and returns base64 ciphertext
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyInput
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64 ciphertext produced by Encrypt
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", ErrEmptyInput
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}

	if len(raw) < v.aead.NonceSize() {
		return "", ErrDecrypt
	}

	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}

	return string(plaintext), nil
}
