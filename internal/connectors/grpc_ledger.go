package connectors

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/agentguard-vault/internal/ledger"
)

const (
	LedgerServiceName = "agentguard.ledger.v1.TokenLedger"
	MethodTransferIn  = "/" + LedgerServiceName + "/TransferIn"
	MethodTransferOut = "/" + LedgerServiceName + "/TransferOut"

	// TokenHeader — сервисный токен между хранилищем и custody-сервисом
	TokenHeader = "x-agentguard-token"
	// RetryAfterHeader — trailer с подсказкой задержки в миллисекундах
	RetryAfterHeader = "retry-after-ms"

	defaultRetryAfter = time.Second
)

// GRPCLedger — клиент удаленного Token Ledger. Сообщения — structpb.Struct:
// {ref, account, amount(decimal string)} -> {ref, tx_id}.
type GRPCLedger struct {
	conn    grpc.ClientConnInterface
	token   string
	timeout time.Duration
}

func NewGRPCLedger(conn grpc.ClientConnInterface, token string) *GRPCLedger {
	return &GRPCLedger{conn: conn, token: token, timeout: 15 * time.Second}
}

func (l *GRPCLedger) TransferIn(ctx context.Context, t ledger.Transfer) (ledger.Receipt, error) {
	return l.invoke(ctx, MethodTransferIn, t)
}

func (l *GRPCLedger) TransferOut(ctx context.Context, t ledger.Transfer) (ledger.Receipt, error) {
	return l.invoke(ctx, MethodTransferOut, t)
}

func (l *GRPCLedger) invoke(ctx context.Context, method string, t ledger.Transfer) (ledger.Receipt, error) {
	if t.Amount == nil {
		return ledger.Receipt{}, ledger.ErrInvalidTransfer
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"ref":     t.Ref,
		"account": t.Account.Hex(),
		"amount":  t.Amount.Dec(),
	})
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to create proto struct: %w", err)
	}

	// Защитный таймаут на уровне вызова, даже если ReliabilityWrapper задал свой
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if l.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, TokenHeader, l.token)
	}

	resp := new(structpb.Struct)
	var trailer metadata.MD
	if err := l.conn.Invoke(ctx, method, req, resp, grpc.Trailer(&trailer)); err != nil {
		return ledger.Receipt{}, fromStatus(err, trailer)
	}

	fields := resp.GetFields()
	receipt := ledger.Receipt{
		Ref:  fields["ref"].GetStringValue(),
		TxID: fields["tx_id"].GetStringValue(),
	}
	if receipt.TxID == "" {
		return ledger.Receipt{}, fmt.Errorf("ledger %s: empty tx_id in response", method)
	}
	return receipt, nil
}

// fromStatus переводит gRPC статус в ошибки пакета ledger, чтобы повтор
// и circuit breaker отличали бизнес-отказ от сбоя транспорта.
func fromStatus(err error, trailer metadata.MD) error {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ledger.ErrInsufficientFunds, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ledger.ErrInvalidTransfer, st.Message())
	case codes.ResourceExhausted:
		return &ThrottleError{RetryAfter: retryAfter(trailer), Cause: err}
	default:
		return fmt.Errorf("ledger call failed: %w", err)
	}
}

func retryAfter(md metadata.MD) time.Duration {
	if v := md.Get(RetryAfterHeader); len(v) > 0 {
		if ms, err := strconv.Atoi(v[0]); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultRetryAfter
}
