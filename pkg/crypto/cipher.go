// Package crypto шифрует персональные данные покупателей (имя, email, телефон)
// перед записью в БД и в события уведомлений.
//
// Формат шифротекста: base64(nonce || ciphertext), AES-256-GCM.
// Ключ выводится из секрета PII_ENCRYPTION_KEY через HKDF-SHA256,
// поэтому секрет может быть произвольной длины.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo разделяет ключи разных назначений, выведенные из одного секрета.
const hkdfInfo = "learning-commerce/pii/v1"

var (
	// ErrEmptySecret — не задан секрет шифрования.
	ErrEmptySecret = errors.New("секрет шифрования не задан")

	// ErrMalformedCiphertext — шифротекст повреждён или зашифрован другим ключом.
	ErrMalformedCiphertext = errors.New("некорректный шифротекст")
)

// Cipher шифрует и расшифровывает строковые поля.
// Безопасен для конкурентного использования.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher создаёт Cipher из секрета.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("ошибка вывода ключа: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt шифрует строку. Пустая строка остаётся пустой:
// необязательные поля (телефон) не превращаются в мусор.
func (c *Cipher) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает строку, полученную из Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrMalformedCiphertext
	}

	plain, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return string(plain), nil
}
