// Package kms wraps secrets at rest with AES-256-GCM. docauth uses it for the
// ledger secret: operators may configure ledger.secret_enc (sealed with the
// master key in kms.key) instead of a plaintext ledger.secret.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrNoSecret is returned by ResolveSecret when neither form is configured.
var ErrNoSecret = errors.New("kms: no ledger secret configured")

// Encryptor holds an AES-256-GCM master key.
type Encryptor struct {
	key []byte // 32 bytes
}

// New creates an Encryptor from a 64-char hex-encoded 32-byte master key.
func New(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("kms: decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("kms: master key must be 32 bytes (got %d)", len(key))
	}
	return &Encryptor{key: key}, nil
}

func (e *Encryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("kms: aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext and returns hex(nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	gcm, err := e.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("kms: nonce: %w", err)
	}
	return hex.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

// Decrypt opens a blob produced by Encrypt.
func (e *Encryptor) Decrypt(hexCiphertext string) (string, error) {
	data, err := hex.DecodeString(hexCiphertext)
	if err != nil {
		return "", fmt.Errorf("kms: decode hex: %w", err)
	}
	gcm, err := e.aead()
	if err != nil {
		return "", err
	}
	ns := gcm.NonceSize()
	if len(data) < ns {
		return "", fmt.Errorf("kms: ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("kms: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// ResolveSecret returns the ledger secret. A sealed value takes precedence
// over the plaintext one and requires masterKey.
func ResolveSecret(plain, sealed, masterKey string) (string, error) {
	if sealed == "" {
		if plain == "" {
			return "", ErrNoSecret
		}
		return plain, nil
	}
	enc, err := New(masterKey)
	if err != nil {
		return "", err
	}
	secret, err := enc.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", ErrNoSecret
	}
	return secret, nil
}
