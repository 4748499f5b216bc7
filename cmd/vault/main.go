package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/agentguard-vault/internal/audit"
	"github.com/xela07ax/agentguard-vault/internal/connectors"
	"github.com/xela07ax/agentguard-vault/internal/console/handler"
	"github.com/xela07ax/agentguard-vault/internal/console/server"
	"github.com/xela07ax/agentguard-vault/internal/console/service"
	"github.com/xela07ax/agentguard-vault/internal/engine"
	"github.com/xela07ax/agentguard-vault/internal/infra"
	"github.com/xela07ax/agentguard-vault/internal/infra/auth"
	"github.com/xela07ax/agentguard-vault/internal/ledger"
	"github.com/xela07ax/agentguard-vault/internal/repository/postgres"
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

	// Контекст жизненного цикла: SIGINT/SIGTERM останавливают фоновые горутины и серверы
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		if err := runCommand(ctx, cfg, os.Args[1:]); err != nil {
			logger.Fatal("command failed", zap.Strings("args", os.Args[1:]), zap.Error(err))
		}
		return
	}
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("vault stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *infra.Config, logger *zap.Logger) error {
	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

	// 2. Token Ledger: удаленный custody-сервис или in-memory для локального стенда
	var tl ledger.TokenLedger
	if cfg.Engine.LedgerAddr == "" {
		logger.Warn("ledger_addr is empty, using in-memory token ledger", zap.Bool("auto_fund", cfg.Engine.LedgerAutoFund))
		tl = ledger.NewMemory(cfg.Engine.LedgerAutoFund)
	} else {
		conn, err := grpc.NewClient(cfg.Engine.LedgerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("token ledger %s: %w", cfg.Engine.LedgerAddr, err)
		}
		defer conn.Close()
		// Оборачиваем в Reliability (rate limit, circuit breaker, retries)
		tl = engine.NewReliabilityWrapper(connectors.NewGRPCLedger(conn, cfg.Engine.LedgerToken), reliabilityConfig(cfg.Engine), metrics)
	}

	// 3. Хранилища событий
	recorder := audit.NewRecorder(cfg.Engine.EventFeedSize)
	sinks := audit.FanOut{recorder}
	var feed handler.EventSource = recorder
	var operators service.OperatorProvider

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		sinks = append(sinks, audit.NewRedisPublisher(rdb, infra.RedisChanEvents))
	}

	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		events := postgres.NewEventRepo(pool)
		sinks = append(sinks, events)
		feed = events
		operators = postgres.NewOperatorRepo(pool)
	}

	agentFS := audit.NewAgentFS(sinks, audit.Options{
		BufferSize:    cfg.Engine.AuditBufferSize,
		BatchSize:     cfg.Engine.AuditBatchSize,
		FlushInterval: cfg.Engine.AuditFlushInterval,
		Fill:          metrics.AuditBufferFill,
	}, logger)
	agentFS.Start()
	// Drain: остаток буфера уходит в хранилища после остановки HTTP
	defer agentFS.Stop()

	// 4. Core
	vault := engine.NewVault(engine.Settings{
		HistoryDefaultLimit: cfg.Engine.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.Engine.HistoryMaxLimit,
	}, tl, agentFS, engine.SystemClock{}, metrics, logger)

	// 5. Control Plane: kill-switch через Redis, без Redis — только локально
	var ks handler.KillSwitcher = vault
	if rdb != nil {
		ksm := engine.NewKillSwitchManager(rdb, vault, logger)
		go ksm.Start(ctx)
		ks = ksm
	}

	// 6. Console API
	validator, login, err := buildAuth(cfg.Auth, operators, logger)
	if err != nil {
		return err
	}
	units := handler.Units(cfg.Engine.TokenDecimals)
	handlers := server.Handlers{
		Auth:     login,
		Agents:   handler.NewAgentHandler(vault, ks, units, logger),
		Payments: handler.NewPaymentHandler(vault, units, logger),
		Approval: handler.NewApprovalHandler(vault, units, logger),
		Events:   handler.NewEventsHandler(feed, vault, units),
	}
	if cfg.Server.MetricsPort == 0 {
		handlers.Metrics = metricsHandler
	}
	console := server.NewConsoleServer(logger, validator, handlers)

	servers := []*http.Server{{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}}
	if cfg.Server.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("http server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	// 7. Graceful Shutdown
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	return runErr
}

// buildAuth: с приватным ключом и базой операторов консоль сама выдает токены,
// с одним публичным ключом только проверяет чужие.
func buildAuth(cfg infra.AuthConfig, operators service.OperatorProvider, logger *zap.Logger) (auth.TokenValidator, *handler.AuthHandler, error) {
	if len(cfg.PrivateKey) > 0 {
		key, err := auth.ParseRSAPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, nil, err
		}
		svc := service.NewAuthService(operators, key, cfg.TokenTTL)
		if operators == nil {
			logger.Warn("database is not configured, /auth/token disabled")
			return svc, nil, nil
		}
		return svc, handler.NewAuthHandler(svc, logger), nil
	}
	if len(cfg.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, nil, err
		}
		return auth.NewOperatorValidator(pub), nil, nil
	}
	return nil, nil, errors.New("auth: neither private nor public key configured")
}

func reliabilityConfig(e infra.EngineConfig) engine.ReliabilityConfig {
	rc := engine.DefaultReliabilityConfig()
	rc.CBMaxRequests = e.CBMaxRequests
	rc.CBInterval = e.CBInterval
	rc.CBTimeout = e.CBTimeout
	rc.RPS = e.LedgerRPS
	rc.Attempts = e.LedgerRetries
	rc.CallTimeout = e.LedgerTimeout
	return rc
}
