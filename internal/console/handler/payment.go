package handler

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

type Payments interface {
	ExecutePayment(ctx context.Context, caller common.Address, id common.Hash, recipient common.Address, amount *uint256.Int, reason string) (domain.PaymentResult, error)
	CheckPayment(ctx context.Context, caller common.Address, id common.Hash, recipient common.Address, amount *uint256.Int, reason string) (domain.PaymentCheck, error)
	GetPaymentHistory(ctx context.Context, id common.Hash, offset, limit uint64) (domain.PaymentPage, error)
}

type PaymentHandler struct {
	vault  Payments
	units  Units
	logger *zap.Logger
}

func NewPaymentHandler(vault Payments, units Units, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{vault: vault, units: units, logger: logger.Named("payments")}
}

type paymentRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

func (h *PaymentHandler) parse(r *http.Request) (common.Hash, common.Address, *uint256.Int, string, error) {
	id, err := agentID(r)
	if err != nil {
		return common.Hash{}, common.Address{}, nil, "", err
	}
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		return id, common.Address{}, nil, "", err
	}
	recipient, err := domain.ParseAddress(req.Recipient)
	if err != nil {
		return id, common.Address{}, nil, "", err
	}
	amount, err := h.units.Parse(req.Amount)
	if err != nil {
		return id, recipient, nil, "", err
	}
	return id, recipient, amount, req.Reason, nil
}

// Execute — POST /v1/agents/{agentID}/payments.
// Блокировка политикой — это 200 со status=BLOCKED, а не ошибка.
func (h *PaymentHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, recipient, amount, reason, err := h.parse(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.vault.ExecutePayment(r.Context(), caller(r), id, recipient, amount, reason)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.Status == domain.PaymentQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// Check — POST /v1/agents/{agentID}/payments/check. Пустой reason отключает проверку дубликата.
func (h *PaymentHandler) Check(w http.ResponseWriter, r *http.Request) {
	id, recipient, amount, reason, err := h.parse(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.vault.CheckPayment(r.Context(), caller(r), id, recipient, amount, reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.units.check(&res))
}

// History — GET /v1/agents/{agentID}/payments?offset=0&limit=50
func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := uintParam(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := uintParam(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := h.vault.GetPaymentHistory(r.Context(), id, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.units.page(&page))
}
