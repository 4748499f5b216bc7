package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// Issuer — iss токенов консоли. Токены другого издателя не принимаются.
const Issuer = "agentguard-console"

const clockSkew = 30 * time.Second

var ErrInvalidToken = errors.New("invalid token")

// Principal — проверенный вызывающий: адрес аккаунта из sub и scopes оператора.
type Principal struct {
	Caller common.Address
	Scopes map[string]bool
}

// TokenValidator — интерфейс проверки токена консоли
type TokenValidator interface {
	VerifyToken(authHeader string) (*Principal, error)
}

// OperatorValidator проверяет RS256-токены операторов.
type OperatorValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewOperatorValidator(pubKey *rsa.PublicKey) *OperatorValidator {
	return &OperatorValidator{
		publicKey: pubKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// VerifyToken принимает значение заголовка Authorization ("Bearer <jwt>").
// Subject обязан быть ненулевым адресом: он станет caller'ом операций движка.
func (v *OperatorValidator) VerifyToken(authHeader string) (*Principal, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(authHeader), "Bearer ")
	if !ok {
		return nil, fmt.Errorf("%w: bearer scheme required", ErrInvalidToken)
	}

	claims := &domain.CustomClaims{}
	_, err := v.parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	caller, err := claims.Address()
	if err != nil {
		return nil, fmt.Errorf("%w: subject %q: %w", ErrInvalidToken, claims.Subject, err)
	}
	return &Principal{Caller: caller, Scopes: claims.Scopes}, nil
}

// ParseRSAPublicKey — PEM открытого ключа (инстансы, которые только проверяют токены).
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	return parsePEM(data, "public", jwt.ParseRSAPublicKeyFromPEM)
}

// ParseRSAPrivateKey — PEM закрытого ключа (инстанс, выдающий токены через /auth/token).
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	return parsePEM(data, "private", jwt.ParseRSAPrivateKeyFromPEM)
}

func parsePEM[K any](data []byte, kind string, parse func([]byte) (K, error)) (K, error) {
	var zero K
	if len(data) == 0 {
		return zero, fmt.Errorf("%s key data is empty", kind)
	}
	key, err := parse(data)
	if err != nil {
		return zero, fmt.Errorf("failed to parse %s key: %w", kind, err)
	}
	return key, nil
}
