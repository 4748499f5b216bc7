package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xela07ax/agentguard-vault/internal/console/service"
	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/infra"
	"github.com/xela07ax/agentguard-vault/internal/repository/postgres"
)

const usage = `usage:
  vault                                                   run the daemon
  vault migrate                                           apply database schema
  vault operator add <username> <address> <password> [scope,...]`

// runCommand — служебные команды обслуживания базы.
func runCommand(ctx context.Context, cfg *infra.Config, args []string) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	pool, err := postgres.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	switch {
	case args[0] == "migrate":
		return postgres.Migrate(ctx, pool)
	case args[0] == "operator" && len(args) >= 5 && args[1] == "add":
		addr, err := domain.ParseAddress(args[3])
		if err != nil {
			return err
		}
		hash, err := service.HashPassword(args[4], cfg.Auth.BcryptCost)
		if err != nil {
			return err
		}
		scopes := map[string]bool{}
		if len(args) > 5 {
			for _, s := range strings.Split(args[5], ",") {
				if s = strings.TrimSpace(s); s != "" {
					scopes[s] = true
				}
			}
		}
		return postgres.NewOperatorRepo(pool).UpsertOperator(ctx, &domain.Operator{
			ID:           uuid.NewString(),
			Username:     args[2],
			Address:      addr.Hex(),
			PasswordHash: hash,
			Scopes:       scopes,
		})
	default:
		return fmt.Errorf("unknown command %q\n%s", strings.Join(args, " "), usage)
	}
}
