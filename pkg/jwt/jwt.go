// Package jwt проверяет RS256 токены, выпущенные сервисом аутентификации.
// Commerce держит только публичный ключ: подпись проверяется локально,
// отзыв токенов проверяется по ключам Redis, которые пишет сервис аутентификации.
package jwt

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Роли пользователей.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	// ErrInvalidToken — подпись, срок действия или claims не прошли проверку.
	ErrInvalidToken = errors.New("невалидный токен")

	// ErrTokenRevoked — токен отозван (logout, смена пароля, бан).
	ErrTokenRevoked = errors.New("токен отозван")
)

// Claims содержит данные JWT токена.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// IsAdmin возвращает true для администраторов.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Config содержит параметры Validator.
type Config struct {
	PublicKeyPath string
	Issuer        string // пустой — издатель не проверяется
}

// Validator проверяет токены по публичному ключу.
type Validator struct {
	publicKey   *rsa.PublicKey
	issuer      string
	revocations *Revocations
}

// NewValidator загружает публичный ключ из PEM файла.
func NewValidator(cfg Config) (*Validator, error) {
	publicKey, err := LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}
	return NewValidatorFromKey(publicKey, cfg.Issuer), nil
}

// NewValidatorFromKey создаёт Validator из готового ключа.
func NewValidatorFromKey(publicKey *rsa.PublicKey, issuer string) *Validator {
	return &Validator{publicKey: publicKey, issuer: issuer}
}

// SetRevocations включает проверку отозванных токенов.
func (v *Validator) SetRevocations(r *Revocations) {
	v.revocations = r
}

// ValidateToken проверяет подпись, срок действия и издателя.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: нет user_id", ErrInvalidToken)
	}
	return claims, nil
}

// Validate проверяет токен и, если включено, его отзыв.
// Ошибка Redis не маскируется под ErrTokenRevoked.
func (v *Validator) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := v.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if v.revocations == nil {
		return claims, nil
	}

	revoked, err := v.revocations.IsRevoked(ctx, claims)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Sign выпускает токен. Нужен сервису аутентификации и тестам;
// commerce приватного ключа не имеет.
func Sign(privateKey *rsa.PrivateKey, issuer, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		Role:   role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, nil
}

// LoadPublicKey загружает RSA публичный ключ из PEM файла (PKIX или PKCS#1).
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	return ParsePublicKeyPEM(data)
}

// ParsePublicKeyPEM разбирает RSA публичный ключ из PEM.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("не удалось декодировать PEM блок")
	}

	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга публичного ключа: %w", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ключ не является RSA публичным ключом")
	}
	return rsaKey, nil
}
