package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/console/handler"
	"github.com/xela07ax/agentguard-vault/internal/infra/auth"
)

// ScopeAdmin открывает аварийные операции (kill-switch).
const ScopeAdmin = "vault.admin"

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов (RS256). В cmd/vault это AuthService со встроенным OperatorValidator
	authValidator auth.TokenValidator

	authHandler     *handler.AuthHandler     // /auth/token
	agentHandler    *handler.AgentHandler    // /v1/agents
	paymentHandler  *handler.PaymentHandler  // /v1/agents/{id}/payments
	approvalHandler *handler.ApprovalHandler // /v1/agents/{id}/approvals (HITL)
	eventsHandler   *handler.EventsHandler   // /v1/agents/{id}/events

	// /metrics на том же порту, если задан
	metrics http.Handler
}

type Handlers struct {
	Auth     *handler.AuthHandler
	Agents   *handler.AgentHandler
	Payments *handler.PaymentHandler
	Approval *handler.ApprovalHandler
	Events   *handler.EventsHandler
	Metrics  http.Handler
}

// NewConsoleServer инициализирует Console API со всеми зависимостями
func NewConsoleServer(logger *zap.Logger, validator auth.TokenValidator, h Handlers) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		authValidator:   validator,
		authHandler:     h.Auth,
		agentHandler:    h.Agents,
		paymentHandler:  h.Payments,
		approvalHandler: h.Approval,
		eventsHandler:   h.Events,
		metrics:         h.Metrics,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		if s.authHandler != nil {
			r.Post("/auth/token", s.authHandler.Login)
		}
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен, subject = адрес вызывающего) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List)
			r.Post("/", s.agentHandler.Register)

			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)
				r.Put("/limits", s.agentHandler.UpdateLimits)
				r.Put("/approval-settings", s.agentHandler.UpdateApprovalSettings)
				r.Put("/authorized-caller", s.agentHandler.UpdateAuthorizedCaller)
				r.Post("/pause", s.agentHandler.Pause)
				r.Post("/resume", s.agentHandler.Resume)

				r.Post("/deposit", s.agentHandler.Deposit)
				r.Post("/withdraw", s.agentHandler.Withdraw)

				r.Route("/whitelist", func(r chi.Router) {
					r.Put("/", s.agentHandler.SetWhitelist)
					r.Post("/batch", s.agentHandler.BatchSetWhitelist)
					r.Put("/enforced", s.agentHandler.SetWhitelistEnforced)
					r.Get("/{address}", s.agentHandler.IsWhitelisted)
				})

				r.Route("/payments", func(r chi.Router) {
					r.Get("/", s.paymentHandler.History)
					r.Post("/", s.paymentHandler.Execute)
					r.Post("/check", s.paymentHandler.Check)
				})

				// Human-in-the-loop
				r.Route("/approvals", func(r chi.Router) {
					r.Get("/", s.approvalHandler.List)
					r.Post("/{index}/execute", s.approvalHandler.Execute)
					r.Post("/{index}/reject", s.approvalHandler.Reject)
				})

				r.Get("/events", s.eventsHandler.Recent)

				// Аварийная блокировка — только администраторы
				r.With(auth.RequireScope(ScopeAdmin)).Post("/kill-switch", s.agentHandler.KillSwitch)
			})
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger — access log через zap вместо middleware.Logger (stdlib log).
func (s *ConsoleServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
