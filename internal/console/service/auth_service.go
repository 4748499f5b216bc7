package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/infra/auth"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type OperatorProvider interface {
	GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error)
}

// AuthService выдает токены консоли и сам же их проверяет (через OperatorValidator).
type AuthService struct {
	*auth.OperatorValidator

	repo       OperatorProvider
	privateKey *rsa.PrivateKey
	ttl        time.Duration
	now        func() time.Time
}

func NewAuthService(repo OperatorProvider, privateKey *rsa.PrivateKey, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AuthService{
		OperatorValidator: auth.NewOperatorValidator(&privateKey.PublicKey),
		repo:              repo,
		privateKey:        privateKey,
		ttl:               ttl,
		now:               time.Now,
	}
}

func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация (источник правды — Postgres)
	op, err := s.repo.GetOperatorByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup operator: %w", err)
	}
	if op == nil {
		return nil, ErrInvalidCredentials
	}

	// 2. Проверка пароля
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. Subject — адрес аккаунта оператора, он станет caller'ом всех операций движка
	addr, err := domain.ParseAddress(op.Address)
	if err != nil {
		return nil, fmt.Errorf("operator %s has no valid address: %w", op.Username, err)
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &domain.CustomClaims{
		Scopes: op.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			Subject:   addr.Hex(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// 4. Подпись закрытым ключом (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}

// HashPassword — для заведения операторов (`vault operator add`).
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
