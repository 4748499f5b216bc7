package handler

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// EventSource — лента событий: audit.Recorder в памяти или архив postgres.EventRepo.
type EventSource interface {
	Recent(ctx context.Context, agentID common.Hash, limit int) ([]domain.Event, error)
}

type EventsHandler struct {
	source EventSource
	agents Registry
	units  Units
}

func NewEventsHandler(source EventSource, agents Registry, units Units) *EventsHandler {
	return &EventsHandler{source: source, agents: agents, units: units}
}

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Recent — GET /v1/agents/{agentID}/events?limit=100
func (h *EventsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := uintParam(r, "limit", defaultEventLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	if limit == 0 || limit > maxEventLimit {
		limit = maxEventLimit
	}
	// 404 для незарегистрированного агента, а не пустая лента
	if _, err := h.agents.GetAgentStats(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	events, err := h.source.Recent(r.Context(), id, int(limit))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for i := range events {
		out = append(out, h.units.event(&events[i]))
	}
	writeJSON(w, http.StatusOK, out)
}
