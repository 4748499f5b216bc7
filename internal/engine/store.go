package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/policy"
)

// agentState — всё, что относится к одному агенту. Меняется только под mu,
// поэтому проверка и запись внутри операции не перемежаются с чужими.
type agentState struct {
	mu sync.RWMutex

	agent   domain.Agent
	balance uint256.Int

	rate   policy.RateWindow
	recent policy.RecentPayments

	whitelist         map[common.Address]bool
	whitelistEnforced bool

	// Флаг оператора. Resume владельца его не снимает.
	killSwitched bool

	approvals     []domain.ApprovalRequest
	history       []domain.PaymentRecord
	totalPayments uint64
}

func newAgentState(a domain.Agent) *agentState {
	return &agentState{
		agent:     a,
		recent:    policy.RecentPayments{},
		whitelist: make(map[common.Address]bool),
	}
}

// snapshot собирает срез для Safety Gate. agent передается отдельно:
// симулятор подсовывает копию, чтобы Refresh не трогал живую запись.
func (st *agentState) snapshot(agent *domain.Agent) *policy.Snapshot {
	return &policy.Snapshot{
		Agent:             agent,
		Balance:           &st.balance,
		Rate:              st.rate,
		Recent:            st.recent,
		WhitelistEnforced: st.whitelistEnforced,
		Whitelist:         st.whitelist,
		KillSwitched:      st.killSwitched,
	}
}

// store — индекс agentID -> состояние. Глобальный mu защищает только саму мапу.
type store struct {
	mu     sync.RWMutex
	agents map[common.Hash]*agentState
}

func newStore() *store {
	return &store{agents: make(map[common.Hash]*agentState)}
}

func (s *store) get(id common.Hash) (*agentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return st, nil
}

func (s *store) insert(id common.Hash, st *agentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; ok {
		return fmt.Errorf("agent %s: %w", id.Hex(), domain.ErrAlreadyRegistered)
	}
	s.agents[id] = st
	return nil
}

func (s *store) ids() []common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Hash, 0, len(s.agents))
	for id := range s.agents {
		out = append(out, id)
	}
	return out
}
