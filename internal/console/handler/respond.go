package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/infra/auth"
)

// errorBody — единый формат ошибок Console API.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError сопоставляет структурные ошибки движка HTTP-кодам.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRegistered), errors.Is(err, domain.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidReason),
		errors.Is(err, domain.ErrInvalidLimits),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLedger):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// caller — principal запроса из токена. Без middleware запрос не доходит до хендлеров.
func caller(r *http.Request) common.Address {
	c, _ := auth.CallerFrom(r.Context())
	return c
}

func agentID(r *http.Request) (common.Hash, error) {
	return domain.ParseAgentID(chi.URLParam(r, "agentID"))
}

func uintParam(r *http.Request, key string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.Join(domain.ErrInvalidInput, err)
	}
	return v, nil
}

// Units переводит суммы между видом "100.5" и минимальными единицами токена.
type Units uint8

func (u Units) Parse(s string) (*uint256.Int, error) {
	return domain.ParseUnits(s, uint8(u))
}

func (u Units) Format(v *uint256.Int) string {
	return domain.FormatUnits(v, uint8(u))
}
