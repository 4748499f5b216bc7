package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type EventType string

const (
	EventAgentRegistered         EventType = "AgentRegistered"
	EventAgentConfigUpdated      EventType = "AgentConfigUpdated"
	EventDeposit                 EventType = "Deposit"
	EventWithdrawal              EventType = "Withdrawal"
	EventPaymentExecuted         EventType = "PaymentExecuted"
	EventPaymentBlocked          EventType = "PaymentBlocked"
	EventPaymentFailed           EventType = "PaymentFailed"
	EventDuplicateDetected       EventType = "DuplicateDetected"
	EventCircuitBreakerTriggered EventType = "CircuitBreakerTriggered"
	EventApprovalRequested       EventType = "ApprovalRequested"
	EventApprovalExecuted        EventType = "ApprovalExecuted"
	EventApprovalRejected        EventType = "ApprovalRejected"
	EventAgentPaused             EventType = "AgentPaused"
	EventAgentResumed            EventType = "AgentResumed"
	EventWhitelistUpdated        EventType = "WhitelistUpdated"
)

// Event — единица аудита. Одно событие на исход операции.
// Поля, не относящиеся к типу события, остаются нулевыми.
type Event struct {
	ID        string      `json:"id"` // UUID события
	Type      EventType   `json:"type"`
	AgentID   common.Hash `json:"agent_id"`
	Timestamp int64       `json:"timestamp"`

	// Actor — кто инициировал (owner, authorizedCaller, депозитор). Нулевой для системных сигналов.
	Actor   common.Address `json:"actor"`
	// Address — контрагент: получатель платежа, адрес whitelist, новый authorizedCaller.
	Address common.Address `json:"address"`

	Amount        *uint256.Int `json:"amount,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	BlockReason   BlockReason  `json:"block_reason,omitempty"`
	PaymentID     common.Hash  `json:"payment_id"`
	PaymentHash   common.Hash  `json:"payment_hash"` // ключ дубликата
	ApprovalIndex uint64       `json:"approval_index,omitempty"`
	PaymentCount  uint64       `json:"payment_count,omitempty"`
	Allowed       bool         `json:"allowed,omitempty"`
	TxRef         string       `json:"tx_ref,omitempty"`
	Error         string       `json:"error,omitempty"`
}
