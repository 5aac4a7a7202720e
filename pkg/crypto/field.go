package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/beam-cloud/synopsis/pkg/types"
)

const (
	minSecretLength = 32
	keyInfo         = "synopsis field encryption"
)

var (
	ErrSecretTooShort = fmt.Errorf("encryption secret must be at least %d bytes", minSecretLength)
	ErrMalformedField = errors.New("malformed encrypted field")
)

// FieldCipher encrypts individual values with XChaCha20-Poly1305. Every call
// uses a fresh random nonce, so equal plaintexts produce different ciphertexts.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher derives the field key from secret and salt with HKDF-SHA256
func NewFieldCipher(secret, salt string) (*FieldCipher, error) {
	if len(secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &FieldCipher{aead: aead}, nil
}

// Encrypt seals plaintext. aad binds the ciphertext to a context (the field
// name) so a value cannot be moved to another field undetected.
func (c *FieldCipher) Encrypt(plaintext, aad []byte) (*types.EncryptedField, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - c.aead.Overhead()

	return &types.EncryptedField{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[split:]),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens a field sealed by Encrypt with the same aad
func (c *FieldCipher) Decrypt(field *types.EncryptedField, aad []byte) ([]byte, error) {
	if field == nil {
		return nil, ErrMalformedField
	}

	ciphertext, err := base64.StdEncoding.DecodeString(field.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedField, err)
	}
	tag, err := base64.StdEncoding.DecodeString(field.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("%w: auth tag: %v", ErrMalformedField, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(field.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformedField, err)
	}
	if len(nonce) != c.aead.NonceSize() || len(tag) != c.aead.Overhead() {
		return nil, ErrMalformedField
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := c.aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt field: %w", err)
	}
	return plaintext, nil
}

// EncryptJSON marshals v and seals the result under name
func (c *FieldCipher) EncryptJSON(name string, v any) (*types.EncryptedField, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return c.Encrypt(data, []byte(name))
}

// DecryptJSON opens a field sealed by EncryptJSON into v
func (c *FieldCipher) DecryptJSON(name string, field *types.EncryptedField, v any) error {
	data, err := c.Decrypt(field, []byte(name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
