package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — claims токена Console API. Subject содержит адрес оператора (0x...),
// который становится principal для всех вызовов движка.
type CustomClaims struct {
	Scopes map[string]bool `json:"scopes"` // "vault.admin": true, "payments.execute": true
	jwt.RegisteredClaims
}

// Address возвращает адрес вызывающего из Subject.
func (c *CustomClaims) Address() (common.Address, error) {
	return ParseAddress(c.Subject)
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// Operator — учетная запись консоли, привязанная к адресу аккаунта.
type Operator struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Address      string          `json:"address"`
	PasswordHash string          `json:"-"` // Никогда не отправляем на фронт
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
}
