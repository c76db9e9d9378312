package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

var (
	ErrInvalidKey        = errors.New("crypto: invalid encryption key")
	ErrEncryptionFailed  = errors.New("crypto: encryption failed")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrInvalidCipherText = errors.New("crypto: invalid cipher text")
)

// Sealer protects secrets stored in the database with AES-256-GCM. A
// sealer built from an empty key stores values as given.
type Sealer struct {
	gcm cipher.AEAD
}

func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return &Sealer{}, nil
	}
	hash := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(hash[:])
	if err != nil {
		return nil, ErrInvalidKey
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &Sealer{gcm: gcm}, nil
}

func (s *Sealer) Enabled() bool { return s.gcm != nil }

// Seal returns base64(nonce || ciphertext).
func (s *Sealer) Seal(plainText string) (string, error) {
	if s.gcm == nil {
		return plainText, nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(stored string) (string, error) {
	if s.gcm == nil {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", ErrInvalidCipherText
	}
	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCipherText
	}
	plainText, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plainText), nil
}

// Encrypt seals plainText with key; an empty key is an error.
func Encrypt(plainText string, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	s, err := NewSealer(key)
	if err != nil {
		return "", err
	}
	return s.Seal(plainText)
}

func Decrypt(cipherText string, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	s, err := NewSealer(key)
	if err != nil {
		return "", err
	}
	return s.Open(cipherText)
}
