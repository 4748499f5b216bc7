package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BlockReason — машиночитаемый код отказа Safety Gate.
type BlockReason string

const (
	ReasonNone                BlockReason = ""
	ReasonAgentNotActive      BlockReason = "AGENT_NOT_ACTIVE"
	ReasonNotAuthorized       BlockReason = "NOT_AUTHORIZED"
	ReasonNotWhitelisted      BlockReason = "RECIPIENT_NOT_WHITELISTED"
	ReasonCircuitBreaker      BlockReason = "CIRCUIT_BREAKER_TRIGGERED"
	ReasonDuplicatePayment    BlockReason = "DUPLICATE_PAYMENT"
	ReasonInsufficientBalance BlockReason = "INSUFFICIENT_BALANCE"
	ReasonExceedsPerTxLimit   BlockReason = "EXCEEDS_PER_TX_LIMIT"
	ReasonExceedsDailyLimit   BlockReason = "EXCEEDS_DAILY_LIMIT"
	ReasonExceedsMonthlyLimit BlockReason = "EXCEEDS_MONTHLY_LIMIT"

	// ReasonApprovalRequired помечает попытку, ушедшую в очередь подтверждения. Не блокировка.
	ReasonApprovalRequired BlockReason = "APPROVAL_REQUIRED"
)

// PaymentStatus — исход одной попытки: Requested -> {Blocked | Queued | Executed}.
type PaymentStatus string

const (
	PaymentExecuted PaymentStatus = "EXECUTED"
	PaymentBlocked  PaymentStatus = "BLOCKED"
	PaymentQueued   PaymentStatus = "QUEUED"
)

// PaymentRecord — неизменяемая запись журнала платежей агента.
type PaymentRecord struct {
	Index       uint64         `json:"index"`
	PaymentID   common.Hash    `json:"payment_id"`
	Recipient   common.Address `json:"recipient"`
	Amount      uint256.Int    `json:"amount"`
	Reason      string         `json:"reason"`
	BlockReason BlockReason    `json:"block_reason,omitempty"`
	Timestamp   int64          `json:"timestamp"`
	Flagged     bool           `json:"flagged"`
}

// PaymentResult возвращается из executePayment / executeApproval.
type PaymentResult struct {
	Status        PaymentStatus `json:"status"`
	Reason        BlockReason   `json:"reason,omitempty"`
	PaymentID     common.Hash   `json:"payment_id"`
	ApprovalIndex uint64        `json:"approval_index,omitempty"`
	TxRef         string        `json:"tx_ref,omitempty"`
}

// PaymentCheck — ответ симулятора checkPayment.
type PaymentCheck struct {
	WouldSucceed bool         `json:"would_succeed"`
	Reason       BlockReason  `json:"reason,omitempty"`
	Details      CheckDetails `json:"details"`
}

// CheckDetails дублирует отдельные условия для UI, решение принимает только Reason.
type CheckDetails struct {
	HasBalance           bool        `json:"has_balance"`
	WithinPerTxLimit     bool        `json:"within_per_tx_limit"`
	WithinDailyLimit     bool        `json:"within_daily_limit"`
	WithinMonthlyLimit   bool        `json:"within_monthly_limit"`
	RecipientWhitelisted *bool       `json:"recipient_whitelisted"` // nil, если whitelist не применяется
	RequiresApproval     bool        `json:"requires_approval"`
	CurrentBalance       uint256.Int `json:"current_balance"`
	RequestedAmount      uint256.Int `json:"requested_amount"`
}

// PaymentPage — страница истории, от старых к новым.
type PaymentPage struct {
	Records []PaymentRecord `json:"records"`
	Total   uint64          `json:"total"`
	Offset  uint64          `json:"offset"`
	Limit   uint64          `json:"limit"`
	HasMore bool            `json:"has_more"`
}
