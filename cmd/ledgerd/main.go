// ledgerd — локальный custody-сервис: in-memory Token Ledger за gRPC.
// Для стендов и интеграционных прогонов vault с ledger_addr.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/agentguard-vault/internal/connectors"
	"github.com/xela07ax/agentguard-vault/internal/infra"
	"github.com/xela07ax/agentguard-vault/internal/ledger"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Engine.LedgerToken == "" {
		logger.Warn("ledger_token is empty, service token check disabled")
	}
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(connectors.UnaryTokenInterceptor(cfg.Engine.LedgerToken)))
	connectors.RegisterLedgerServer(grpcSrv, ledger.NewMemory(cfg.Engine.LedgerAutoFund))

	lis, err := net.Listen("tcp", cfg.Engine.LedgerListen)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.Engine.LedgerListen), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		grpcSrv.GracefulStop()
	}()

	logger.Info("token ledger started", zap.String("addr", lis.Addr().String()), zap.Bool("auto_fund", cfg.Engine.LedgerAutoFund))
	if err := grpcSrv.Serve(lis); err != nil {
		logger.Fatal("failed to serve gRPC", zap.Error(err))
	}
}
