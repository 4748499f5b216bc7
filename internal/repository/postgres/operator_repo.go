package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

type OperatorRepo struct {
	pool *pgxpool.Pool
}

func NewOperatorRepo(pool *pgxpool.Pool) *OperatorRepo {
	return &OperatorRepo{pool: pool}
}

// GetOperatorByUsername возвращает (nil, nil), если оператора нет.
func (r *OperatorRepo) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	query := `
		SELECT id, username, address, password_hash, scopes, created_at
		FROM operators WHERE username = $1`

	op := &domain.Operator{}
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&op.ID, &op.Username, &op.Address, &op.PasswordHash, &op.Scopes, &op.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get operator: %w", err)
	}
	return op, nil
}

// UpsertOperator заводит или обновляет оператора (команда `vault operator add`).
func (r *OperatorRepo) UpsertOperator(ctx context.Context, op *domain.Operator) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO operators (id, username, address, password_hash, scopes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE
		SET address = EXCLUDED.address, password_hash = EXCLUDED.password_hash, scopes = EXCLUDED.scopes`,
		op.ID, op.Username, op.Address, op.PasswordHash, op.Scopes)
	if err != nil {
		return fmt.Errorf("postgres: upsert operator: %w", err)
	}
	return nil
}
