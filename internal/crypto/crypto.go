// Package crypto seals secrets kept in the config file, such as the backend
// bearer token. Values are AES-256-GCM encrypted and base64 encoded.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// SealedPrefix marks a config value produced by SealToken.
const SealedPrefix = "enc:"

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is empty.
	ErrInvalidKey = errors.New("invalid key")
)

// Encrypt encrypts plaintext using AES-256-GCM.
// The key is derived from the input using SHA-256.
func Encrypt(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, cipherData := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	derivedKey := sha256.Sum256(key)
	block, err := aes.NewCipher(derivedKey[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveKey derives a consistent key from a passphrase.
func DeriveKey(passphrase string) []byte {
	hash := sha256.Sum256([]byte("fieldsync:" + passphrase))
	return hash[:]
}

// SealToken encrypts token for storage in the config file. The result
// carries SealedPrefix.
func SealToken(token, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrInvalidKey
	}
	if token == "" {
		return "", errors.New("token cannot be empty")
	}
	sealed, err := Encrypt([]byte(token), DeriveKey(passphrase))
	if err != nil {
		return "", err
	}
	return SealedPrefix + sealed, nil
}

// IsSealed reports whether value was produced by SealToken.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// OpenToken reverses SealToken. Values without SealedPrefix are returned
// unchanged.
func OpenToken(value, passphrase string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if passphrase == "" {
		return "", ErrInvalidKey
	}
	plaintext, err := Decrypt(strings.TrimPrefix(value, SealedPrefix), DeriveKey(passphrase))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
