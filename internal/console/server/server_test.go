package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/agentguard-vault/internal/audit"
	"github.com/xela07ax/agentguard-vault/internal/console/handler"
	"github.com/xela07ax/agentguard-vault/internal/console/service"
	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/engine"
	"github.com/xela07ax/agentguard-vault/internal/ledger"
)

const password = "correct horse"

var (
	aliceAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	botAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	eveAddr   = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	rootAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	payee     = "0x00000000000000000000000000000000000000e1"
)

type operators map[string]*domain.Operator

func (o operators) GetOperatorByUsername(_ context.Context, username string) (*domain.Operator, error) {
	return o[username], nil
}

type harness struct {
	t      *testing.T
	srv    *ConsoleServer
	tokens map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	hash, err := service.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)

	ops := operators{}
	for name, op := range map[string]struct {
		addr   common.Address
		scopes map[string]bool
	}{
		"alice": {aliceAddr, nil},
		"bot":   {botAddr, nil},
		"eve":   {eveAddr, nil},
		"root":  {rootAddr, map[string]bool{ScopeAdmin: true}},
	} {
		ops[name] = &domain.Operator{ID: name, Username: name, Address: op.addr.Hex(), PasswordHash: hash, Scopes: op.scopes}
	}

	logger := zap.NewNop()
	rec := audit.NewRecorder(100)
	vault := engine.NewVault(engine.DefaultSettings(), ledger.NewMemory(true), rec, nil, nil, logger)
	authSvc := service.NewAuthService(ops, key, 0)
	units := handler.Units(domain.DefaultTokenDecimals)

	h := &harness{
		t: t,
		srv: NewConsoleServer(logger, authSvc, Handlers{
			Auth:     handler.NewAuthHandler(authSvc, logger),
			Agents:   handler.NewAgentHandler(vault, vault, units, logger),
			Payments: handler.NewPaymentHandler(vault, units, logger),
			Approval: handler.NewApprovalHandler(vault, units, logger),
			Events:   handler.NewEventsHandler(rec, vault, units),
		}),
		tokens: map[string]string{},
	}
	for name := range ops {
		h.tokens[name] = h.login(name, password)
	}
	return h
}

func (h *harness) login(user, pass string) string {
	w := h.do("", http.MethodPost, "/auth/token", domain.LoginRequest{Username: user, Password: pass})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	var resp domain.TokenResponse
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func (h *harness) do(user, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok := h.tokens[user]; tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	h.srv.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (h *harness) register(id string) {
	w := h.do("alice", http.MethodPost, "/v1/agents", map[string]interface{}{
		"agent_id":              id,
		"authorized_caller":     botAddr.Hex(),
		"per_transaction_limit": "200",
		"daily_limit":           "500",
		"monthly_limit":         "2000",
	})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
}

func TestConsole_Perimeter(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusOK, h.do("", http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do("", http.MethodGet, "/v1/agents", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		h.do("", http.MethodPost, "/auth/token", domain.LoginRequest{Username: "alice", Password: "nope"}).Code)
	assert.Equal(t, http.StatusUnauthorized,
		h.do("", http.MethodPost, "/auth/token", domain.LoginRequest{Username: "ghost", Password: password}).Code)
	assert.Equal(t, http.StatusOK, h.do("alice", http.MethodGet, "/v1/agents", nil).Code)
}

func TestConsole_PaymentAndApprovalFlow(t *testing.T) {
	h := newHarness(t)
	h.register("bot-1")

	stats := decodeBody[map[string]interface{}](t, h.do("alice", http.MethodGet, "/v1/agents/bot-1", nil))
	assert.Equal(t, aliceAddr.Hex(), common.HexToAddress(stats["owner"].(string)).Hex())
	assert.Equal(t, "500", stats["daily_limit"])
	assert.Equal(t, true, stats["is_active"])

	w := h.do("alice", http.MethodPost, "/v1/agents/bot-1/deposit", map[string]string{"amount": "1000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1000", decodeBody[map[string]interface{}](t, w)["balance"])

	// Исполненный платеж с дробной суммой
	w = h.do("bot", http.MethodPost, "/v1/agents/bot-1/payments", map[string]string{
		"recipient": payee, "amount": "50.5", "reason": "invoice #1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(domain.PaymentExecuted), decodeBody[map[string]interface{}](t, w)["status"])

	stats = decodeBody[map[string]interface{}](t, h.do("alice", http.MethodGet, "/v1/agents/bot-1", nil))
	assert.Equal(t, "949.5", stats["balance"])
	assert.Equal(t, "50.5", stats["daily_spent"])
	assert.Equal(t, "449.5", stats["daily_remaining"])

	// Блокировка политикой — 200 со статусом BLOCKED
	w = h.do("bot", http.MethodPost, "/v1/agents/bot-1/payments", map[string]string{
		"recipient": payee, "amount": "201", "reason": "too much",
	})
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[map[string]interface{}](t, w)
	assert.Equal(t, string(domain.PaymentBlocked), res["status"])
	assert.Equal(t, string(domain.ReasonExceedsPerTxLimit), res["reason"])

	// Порог подтверждения
	w = h.do("alice", http.MethodPut, "/v1/agents/bot-1/approval-settings", map[string]interface{}{
		"requires_approval": true, "approval_threshold": "100",
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = h.do("bot", http.MethodPost, "/v1/agents/bot-1/payments", map[string]string{
		"recipient": payee, "amount": "150", "reason": "big invoice",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, string(domain.PaymentQueued), decodeBody[map[string]interface{}](t, w)["status"])

	pending := decodeBody[[]map[string]interface{}](t, h.do("alice", http.MethodGet, "/v1/agents/bot-1/approvals?status=pending", nil))
	require.Len(t, pending, 1)
	assert.Equal(t, "150", pending[0]["amount"])
	assert.Nil(t, pending[0]["resolved_by"])

	assert.Equal(t, http.StatusForbidden, h.do("eve", http.MethodPost, "/v1/agents/bot-1/approvals/0/execute", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do("alice", http.MethodPost, "/v1/agents/bot-1/approvals/7/execute", nil).Code)

	w = h.do("alice", http.MethodPost, "/v1/agents/bot-1/approvals/0/execute", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(domain.PaymentExecuted), decodeBody[map[string]interface{}](t, w)["status"])

	assert.Equal(t, http.StatusConflict, h.do("alice", http.MethodPost, "/v1/agents/bot-1/approvals/0/reject", nil).Code)
	assert.Empty(t, decodeBody[[]map[string]interface{}](t, h.do("alice", http.MethodGet, "/v1/agents/bot-1/approvals?status=pending", nil)))
	executed := decodeBody[[]map[string]interface{}](t, h.do("alice", http.MethodGet, "/v1/agents/bot-1/approvals?status=executed", nil))
	require.Len(t, executed, 1)
	assert.Equal(t, aliceAddr.Hex(), common.HexToAddress(executed[0]["resolved_by"].(string)).Hex())
	assert.Equal(t, http.StatusBadRequest, h.do("alice", http.MethodGet, "/v1/agents/bot-1/approvals?status=weird", nil).Code)

	// Журнал: исполненный, заблокированный, поставленный в очередь, исполненный по заявке
	page := decodeBody[map[string]interface{}](t, h.do("alice", http.MethodGet, "/v1/agents/bot-1/payments?limit=2", nil))
	assert.EqualValues(t, 4, page["total"])
	assert.EqualValues(t, 2, page["limit"])
	assert.Equal(t, true, page["has_more"])
	records := page["records"].([]interface{})
	require.Len(t, records, 2)
	assert.Equal(t, "50.5", records[0].(map[string]interface{})["amount"])
	assert.Equal(t, true, records[1].(map[string]interface{})["flagged"])

	events := decodeBody[[]map[string]interface{}](t, h.do("alice", http.MethodGet, "/v1/agents/bot-1/events", nil))
	require.NotEmpty(t, events)
	assert.Equal(t, string(domain.EventAgentRegistered), events[0]["type"])
	assert.Equal(t, string(domain.EventApprovalExecuted), events[len(events)-1]["type"])
}

func TestConsole_CheckPayment(t *testing.T) {
	h := newHarness(t)
	h.register("bot-1")
	require.Equal(t, http.StatusOK, h.do("alice", http.MethodPost, "/v1/agents/bot-1/deposit", map[string]string{"amount": "10"}).Code)

	w := h.do("bot", http.MethodPost, "/v1/agents/bot-1/payments/check", map[string]string{
		"recipient": payee, "amount": "25",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	check := decodeBody[map[string]interface{}](t, w)
	assert.Equal(t, false, check["would_succeed"])
	assert.Equal(t, string(domain.ReasonInsufficientBalance), check["reason"])
	details := check["details"].(map[string]interface{})
	assert.Equal(t, false, details["has_balance"])
	assert.Equal(t, "10", details["current_balance"])
	assert.Equal(t, "25", details["requested_amount"])
	assert.Nil(t, details["recipient_whitelisted"])
}

func TestConsole_ErrorMapping(t *testing.T) {
	h := newHarness(t)
	h.register("bot-1")

	tests := []struct {
		name   string
		user   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown agent", "alice", http.MethodGet, "/v1/agents/nobody", nil, http.StatusNotFound},
		{"duplicate registration", "alice", http.MethodPost, "/v1/agents", map[string]string{
			"agent_id": "bot-1", "authorized_caller": botAddr.Hex(),
			"per_transaction_limit": "1", "daily_limit": "1", "monthly_limit": "1",
		}, http.StatusConflict},
		{"inverted limits", "alice", http.MethodPut, "/v1/agents/bot-1/limits", map[string]string{
			"per_transaction_limit": "10", "daily_limit": "5", "monthly_limit": "50",
		}, http.StatusBadRequest},
		{"too many decimals", "alice", http.MethodPost, "/v1/agents/bot-1/deposit", map[string]string{"amount": "1.0000001"}, http.StatusBadRequest},
		{"zero address", "alice", http.MethodPut, "/v1/agents/bot-1/authorized-caller", map[string]string{
			"authorized_caller": "0x0000000000000000000000000000000000000000",
		}, http.StatusBadRequest},
		{"owner pauses", "alice", http.MethodPost, "/v1/agents/bot-1/pause", nil, http.StatusNoContent},
		{"stranger resumes", "eve", http.MethodPost, "/v1/agents/bot-1/resume", nil, http.StatusForbidden},
		{"owner is not the payer", "alice", http.MethodPost, "/v1/agents/bot-1/payments", map[string]string{
			"recipient": payee, "amount": "1", "reason": "x",
		}, http.StatusOK},
		{"withdraw beyond balance", "alice", http.MethodPost, "/v1/agents/bot-1/withdraw", map[string]string{
			"amount": "5", "recipient": payee,
		}, http.StatusBadRequest},
		{"batch length mismatch", "alice", http.MethodPost, "/v1/agents/bot-1/whitelist/batch", map[string]interface{}{
			"recipients": []string{payee}, "allowed": []bool{},
		}, http.StatusBadRequest},
		{"kill-switch needs admin", "alice", http.MethodPost, "/v1/agents/bot-1/kill-switch", map[string]bool{"engaged": true}, http.StatusForbidden},
		{"bad approval index", "alice", http.MethodPost, "/v1/agents/bot-1/approvals/x/reject", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(tt.user, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestConsole_WhitelistAndKillSwitch(t *testing.T) {
	h := newHarness(t)
	h.register("bot-1")

	w := h.do("alice", http.MethodPut, "/v1/agents/bot-1/whitelist", map[string]interface{}{"recipient": payee, "allowed": true})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	require.Equal(t, http.StatusNoContent,
		h.do("alice", http.MethodPut, "/v1/agents/bot-1/whitelist/enforced", map[string]bool{"enforced": true}).Code)

	got := decodeBody[map[string]interface{}](t, h.do("bot", http.MethodGet, "/v1/agents/bot-1/whitelist/"+payee, nil))
	assert.Equal(t, true, got["whitelisted"])
	stats := decodeBody[map[string]interface{}](t, h.do("alice", http.MethodGet, "/v1/agents/bot-1", nil))
	assert.Equal(t, true, stats["whitelist_enforced"])

	w = h.do("root", http.MethodPost, "/v1/agents/bot-1/kill-switch", map[string]bool{"engaged": true})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	stats = decodeBody[map[string]interface{}](t, h.do("alice", http.MethodGet, "/v1/agents/bot-1", nil))
	assert.Equal(t, false, stats["is_active"])
	assert.Equal(t, true, stats["kill_switched"])

	// возобновление владельцем блокировку оператора не снимает
	require.Equal(t, http.StatusNoContent, h.do("alice", http.MethodPost, "/v1/agents/bot-1/resume", nil).Code)
	stats = decodeBody[map[string]interface{}](t, h.do("alice", http.MethodGet, "/v1/agents/bot-1", nil))
	assert.Equal(t, false, stats["is_active"])
	assert.Equal(t, false, stats["paused"])

	assert.Equal(t, http.StatusNotFound,
		h.do("root", http.MethodPost, "/v1/agents/ghost/kill-switch", map[string]bool{"engaged": true}).Code)
}
