package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// EventRepo — постоянный журнал событий хранилища (sink для AgentFS).
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

const eventColumns = 8

func (r *EventRepo) WriteBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	vals := make([]interface{}, 0, len(events)*eventColumns)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * eventColumns
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)

		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("postgres: marshal event %s: %w", e.ID, err)
		}
		var amount, blockReason interface{}
		if e.Amount != nil {
			amount = e.Amount.Dec()
		}
		if e.BlockReason != "" {
			blockReason = string(e.BlockReason)
		}

		vals = append(vals,
			e.ID, string(e.Type), e.AgentID.Hex(), e.Actor.Hex(),
			amount, blockReason, e.Timestamp, payload,
		)
	}

	// ON CONFLICT: AgentFS может повторить пачку после сбоя
	query := "INSERT INTO vault_events (id, event_type, agent_id, actor, amount, block_reason, occurred_at, payload) VALUES " +
		sb.String() + " ON CONFLICT (id) DO NOTHING"

	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write events: %w", err)
	}
	return nil
}

// Recent возвращает последние limit событий агента в хронологическом порядке.
func (r *EventRepo) Recent(ctx context.Context, agentID common.Hash, limit int) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payload FROM (
			SELECT payload, occurred_at FROM vault_events
			WHERE agent_id = $1
			ORDER BY occurred_at DESC
			LIMIT $2
		) t ORDER BY occurred_at ASC`, agentID.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	defer rows.Close()

	out := []domain.Event{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e domain.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("postgres: decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
