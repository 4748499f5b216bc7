package handler

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/ledger"
)

// Registry — операции реестра и средств, которые дергает консоль (реализует engine.Vault).
type Registry interface {
	Register(ctx context.Context, caller common.Address, id common.Hash, cfg domain.AgentConfig) error
	UpdateLimits(ctx context.Context, caller common.Address, id common.Hash, l domain.Limits) error
	UpdateApprovalSettings(ctx context.Context, caller common.Address, id common.Hash, requiresApproval bool, threshold *uint256.Int) error
	UpdateAuthorizedCaller(ctx context.Context, caller common.Address, id common.Hash, newCaller common.Address) error
	Pause(ctx context.Context, caller common.Address, id common.Hash) error
	Resume(ctx context.Context, caller common.Address, id common.Hash) error

	SetWhitelist(ctx context.Context, caller common.Address, id common.Hash, recipient common.Address, allowed bool) error
	BatchSetWhitelist(ctx context.Context, caller common.Address, id common.Hash, recipients []common.Address, allowed []bool) error
	SetWhitelistEnforced(ctx context.Context, caller common.Address, id common.Hash, enforced bool) error
	IsWhitelisted(ctx context.Context, id common.Hash, addr common.Address) (bool, error)

	Deposit(ctx context.Context, caller common.Address, id common.Hash, amount *uint256.Int) (ledger.Receipt, error)
	Withdraw(ctx context.Context, caller common.Address, id common.Hash, amount *uint256.Int, recipient common.Address) (ledger.Receipt, error)

	GetAgentStats(ctx context.Context, id common.Hash) (domain.AgentStats, error)
	ListAgents(ctx context.Context) ([]domain.AgentStats, error)
}

// KillSwitcher — аварийная блокировка; в проде это engine.KillSwitchManager (рассылка через Redis).
type KillSwitcher interface {
	KillSwitch(ctx context.Context, id common.Hash, engaged bool) error
}

type AgentHandler struct {
	vault  Registry
	ks     KillSwitcher
	units  Units
	logger *zap.Logger
}

func NewAgentHandler(vault Registry, ks KillSwitcher, units Units, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{vault: vault, ks: ks, units: units, logger: logger.Named("agents")}
}

type limitsRequest struct {
	PerTransaction string `json:"per_transaction_limit"`
	Daily          string `json:"daily_limit"`
	Monthly        string `json:"monthly_limit"`
}

func (u Units) limits(req limitsRequest) (domain.Limits, error) {
	var l domain.Limits
	for _, f := range []struct {
		raw string
		dst *uint256.Int
	}{
		{req.PerTransaction, &l.PerTransaction},
		{req.Daily, &l.Daily},
		{req.Monthly, &l.Monthly},
	} {
		v, err := u.Parse(f.raw)
		if err != nil {
			return l, err
		}
		f.dst.Set(v)
	}
	return l, nil
}

type registerRequest struct {
	AgentID          string `json:"agent_id"`
	AuthorizedCaller string `json:"authorized_caller"`
	limitsRequest
	RequiresApproval  bool   `json:"requires_approval"`
	ApprovalThreshold string `json:"approval_threshold"`
}

// Register — POST /v1/agents. Владельцем становится вызывающий.
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := domain.ParseAgentID(req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}
	authorized, err := domain.ParseAddress(req.AuthorizedCaller)
	if err != nil {
		writeError(w, err)
		return
	}
	limits, err := h.units.limits(req.limitsRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg := domain.AgentConfig{
		Limits:           limits,
		RequiresApproval: req.RequiresApproval,
		AuthorizedCaller: authorized,
	}
	if req.ApprovalThreshold != "" {
		threshold, err := h.units.Parse(req.ApprovalThreshold)
		if err != nil {
			writeError(w, err)
			return
		}
		cfg.ApprovalThreshold.Set(threshold)
	}

	if err := h.vault.Register(r.Context(), caller(r), id, cfg); err != nil {
		writeError(w, err)
		return
	}
	h.writeStats(w, r, id, http.StatusCreated)
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.vault.ListAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]agentView, 0, len(agents))
	for i := range agents {
		out = append(out, h.units.agent(&agents[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeStats(w, r, id, http.StatusOK)
}

func (h *AgentHandler) writeStats(w http.ResponseWriter, r *http.Request, id common.Hash, status int) {
	stats, err := h.vault.GetAgentStats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, h.units.agent(&stats))
}

func (h *AgentHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var req limitsRequest
	h.mutate(w, r, &req, func(ctx context.Context, id common.Hash) error {
		l, err := h.units.limits(req)
		if err != nil {
			return err
		}
		return h.vault.UpdateLimits(ctx, caller(r), id, l)
	})
}

type approvalSettingsRequest struct {
	RequiresApproval bool   `json:"requires_approval"`
	Threshold        string `json:"approval_threshold"`
}

func (h *AgentHandler) UpdateApprovalSettings(w http.ResponseWriter, r *http.Request) {
	var req approvalSettingsRequest
	h.mutate(w, r, &req, func(ctx context.Context, id common.Hash) error {
		threshold := new(uint256.Int)
		if req.Threshold != "" {
			v, err := h.units.Parse(req.Threshold)
			if err != nil {
				return err
			}
			threshold = v
		}
		return h.vault.UpdateApprovalSettings(ctx, caller(r), id, req.RequiresApproval, threshold)
	})
}

type authorizedCallerRequest struct {
	AuthorizedCaller string `json:"authorized_caller"`
}

func (h *AgentHandler) UpdateAuthorizedCaller(w http.ResponseWriter, r *http.Request) {
	var req authorizedCallerRequest
	h.mutate(w, r, &req, func(ctx context.Context, id common.Hash) error {
		addr, err := domain.ParseAddress(req.AuthorizedCaller)
		if err != nil {
			return err
		}
		return h.vault.UpdateAuthorizedCaller(ctx, caller(r), id, addr)
	})
}

func (h *AgentHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(ctx context.Context, id common.Hash) error {
		return h.vault.Pause(ctx, caller(r), id)
	})
}

func (h *AgentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(ctx context.Context, id common.Hash) error {
		return h.vault.Resume(ctx, caller(r), id)
	})
}

type killSwitchRequest struct {
	Engaged bool `json:"engaged"`
}

// KillSwitch — POST /v1/agents/{agentID}/kill-switch, только scope vault.admin.
// Сигнал уходит через Redis всем экземплярам, проверка владельца не выполняется.
func (h *AgentHandler) KillSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	h.mutate(w, r, &req, func(ctx context.Context, id common.Hash) error {
		if _, err := h.vault.GetAgentStats(ctx, id); err != nil {
			return err
		}
		h.logger.Warn("kill-switch requested",
			zap.String("agent_id", id.Hex()),
			zap.Bool("engaged", req.Engaged),
			zap.String("operator", caller(r).Hex()))
		return h.ks.KillSwitch(ctx, id, req.Engaged)
	})
}

// mutate — общий каркас изменяющих операций: разбор id, тело, 204 или ошибка.
func (h *AgentHandler) mutate(w http.ResponseWriter, r *http.Request, body interface{}, fn func(ctx context.Context, id common.Hash) error) {
	id, err := agentID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if body != nil {
		if err := decode(r, body); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := fn(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type whitelistRequest struct {
	Recipient string `json:"recipient"`
	Allowed   bool   `json:"allowed"`
}

func (h *AgentHandler) SetWhitelist(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	h.mutate(w, r, &req, func(ctx context.Context, id common.Hash) error {
		addr, err := domain.ParseAddress(req.Recipient)
		if err != nil {
			return err
		}
		return h.vault.SetWhitelist(ctx, caller(r), id, addr, req.Allowed)
	})
}

type batchWhitelistRequest struct {
	Recipients []string `json:"recipients"`
	Allowed    []bool   `json:"allowed"`
}

func (h *AgentHandler) BatchSetWhitelist(w http.ResponseWriter, r *http.Request) {
	var req batchWhitelistRequest
	h.mutate(w, r, &req, func(ctx context.Context, id common.Hash) error {
		recipients := make([]common.Address, 0, len(req.Recipients))
		for _, raw := range req.Recipients {
			addr, err := domain.ParseAddress(raw)
			if err != nil {
				return err
			}
			recipients = append(recipients, addr)
		}
		return h.vault.BatchSetWhitelist(ctx, caller(r), id, recipients, req.Allowed)
	})
}

type enforcedRequest struct {
	Enforced bool `json:"enforced"`
}

func (h *AgentHandler) SetWhitelistEnforced(w http.ResponseWriter, r *http.Request) {
	var req enforcedRequest
	h.mutate(w, r, &req, func(ctx context.Context, id common.Hash) error {
		return h.vault.SetWhitelistEnforced(ctx, caller(r), id, req.Enforced)
	})
}

// IsWhitelisted — GET /v1/agents/{agentID}/whitelist/{address}
func (h *AgentHandler) IsWhitelisted(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	addr, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	ok, err := h.vault.IsWhitelisted(r.Context(), id, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr, "whitelisted": ok})
}

type fundsRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
}

type receiptView struct {
	ledger.Receipt
	Balance string `json:"balance"`
}

func (h *AgentHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.funds(w, r, func(ctx context.Context, id common.Hash, req fundsRequest, amount *uint256.Int) (ledger.Receipt, error) {
		return h.vault.Deposit(ctx, caller(r), id, amount)
	})
}

func (h *AgentHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.funds(w, r, func(ctx context.Context, id common.Hash, req fundsRequest, amount *uint256.Int) (ledger.Receipt, error) {
		recipient, err := domain.ParseAddress(req.Recipient)
		if err != nil {
			return ledger.Receipt{}, err
		}
		return h.vault.Withdraw(ctx, caller(r), id, amount, recipient)
	})
}

func (h *AgentHandler) funds(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id common.Hash, req fundsRequest, amount *uint256.Int) (ledger.Receipt, error)) {
	id, err := agentID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req fundsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := h.units.Parse(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	receipt, err := fn(r.Context(), id, req, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.vault.GetAgentStats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptView{Receipt: receipt, Balance: h.units.Format(&stats.Balance)})
}
