package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"notify-hub/internal/domain"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrInvalidKey возвращается для ключа неверной длины или кодировки.
	ErrInvalidKey = errors.New("secrets: key must be 32 bytes (hex or base64)")
	// ErrDecrypt возвращается, если шифротекст повреждён или ключ не подходит.
	ErrDecrypt = errors.New("secrets: decryption failed")
)

// Box шифрует наборы учётных данных через nacl/secretbox.
// Формат: nonce(24) || secretbox.Seal(json).
type Box struct {
	key [keySize]byte
}

var _ domain.CredentialSealer = (*Box)(nil)

// ParseKey разбирает ключ из hex или base64.
func ParseKey(raw string) ([keySize]byte, error) {
	var key [keySize]byte
	raw = strings.TrimSpace(raw)
	var decoded []byte
	if b, err := hex.DecodeString(raw); err == nil && len(b) == keySize {
		decoded = b
	} else if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == keySize {
		decoded = b
	} else {
		return key, ErrInvalidKey
	}
	copy(key[:], decoded)
	return key, nil
}

// NewBox создаёт шифратор с ключом из конфигурации.
func NewBox(rawKey string) (*Box, error) {
	key, err := ParseKey(rawKey)
	if err != nil {
		return nil, err
	}
	return &Box{key: key}, nil
}

// NewEphemeralBox создаёт шифратор со случайным ключом, живущим до конца процесса.
func NewEphemeralBox() (*Box, error) {
	var b Box
	if _, err := io.ReadFull(rand.Reader, b.key[:]); err != nil {
		return nil, fmt.Errorf("secrets: generate key: %w", err)
	}
	return &b, nil
}

// Seal шифрует учётные данные.
func (b *Box) Seal(creds domain.Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("secrets: marshal credentials: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("secrets: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &b.key), nil
}

// Open расшифровывает учётные данные.
func (b *Box) Open(sealed []byte) (domain.Credentials, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return domain.Credentials{}, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return domain.Credentials{}, ErrDecrypt
	}
	var creds domain.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("secrets: decode credentials: %w", err)
	}
	return creds, nil
}
