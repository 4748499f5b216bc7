package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

type Approvals interface {
	ExecuteApproval(ctx context.Context, caller common.Address, id common.Hash, index uint64) (domain.PaymentResult, error)
	RejectApproval(ctx context.Context, caller common.Address, id common.Hash, index uint64) error
	GetPendingApprovals(ctx context.Context, id common.Hash) ([]domain.ApprovalRequest, error)
}

// ApprovalHandler — Human-in-the-loop: очередь платежей выше порога.
type ApprovalHandler struct {
	vault  Approvals
	units  Units
	logger *zap.Logger
}

func NewApprovalHandler(vault Approvals, units Units, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{vault: vault, units: units, logger: logger.Named("approvals")}
}

// List — GET /v1/agents/{agentID}/approvals[?status=pending|executed|rejected]
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter := domain.ApprovalStatus(r.URL.Query().Get("status"))
	switch filter {
	case "", domain.ApprovalPending, domain.ApprovalExecuted, domain.ApprovalRejected:
	default:
		writeError(w, fmt.Errorf("status %q: %w", filter, domain.ErrInvalidInput))
		return
	}

	queue, err := h.vault.GetPendingApprovals(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]approvalView, 0, len(queue))
	for i := range queue {
		if filter != "" && queue[i].Status() != filter {
			continue
		}
		out = append(out, h.units.approval(&queue[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// Execute — POST /v1/agents/{agentID}/approvals/{index}/execute.
// Если повторная проверка политики не прошла, заявка остается pending, ответ 200 со status=BLOCKED.
func (h *ApprovalHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, index, err := approvalTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.vault.ExecuteApproval(r.Context(), caller(r), id, index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, index, err := approvalTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.vault.RejectApproval(r.Context(), caller(r), id, index); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func approvalTarget(r *http.Request) (common.Hash, uint64, error) {
	id, err := agentID(r)
	if err != nil {
		return id, 0, err
	}
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		return id, 0, fmt.Errorf("approval index: %w", domain.ErrInvalidInput)
	}
	return id, index, nil
}
