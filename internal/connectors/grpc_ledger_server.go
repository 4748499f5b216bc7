package connectors

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/agentguard-vault/internal/ledger"
)

// RegisterLedgerServer публикует любой ledger.TokenLedger как gRPC-сервис custody.
func RegisterLedgerServer(s grpc.ServiceRegistrar, impl ledger.TokenLedger) {
	s.RegisterService(&ledgerServiceDesc, impl)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: LedgerServiceName,
	HandlerType: (*ledger.TokenLedger)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "TransferIn",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return handleTransfer(srv, ctx, dec, interceptor, MethodTransferIn, srv.(ledger.TokenLedger).TransferIn)
			},
		},
		{
			MethodName: "TransferOut",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return handleTransfer(srv, ctx, dec, interceptor, MethodTransferOut, srv.(ledger.TokenLedger).TransferOut)
			},
		},
	},
	Streams: []grpc.StreamDesc{},
}

type transferFunc func(ctx context.Context, t ledger.Transfer) (ledger.Receipt, error)

func handleTransfer(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor, method string, call transferFunc) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return serveTransfer(ctx, req.(*structpb.Struct), call)
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, handler)
}

func serveTransfer(ctx context.Context, req *structpb.Struct, call transferFunc) (*structpb.Struct, error) {
	t, err := decodeTransfer(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	receipt, err := call(ctx, t)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"ref":   receipt.Ref,
		"tx_id": receipt.TxID,
	})
}

func decodeTransfer(req *structpb.Struct) (ledger.Transfer, error) {
	fields := req.GetFields()
	account := fields["account"].GetStringValue()
	if !common.IsHexAddress(account) {
		return ledger.Transfer{}, errors.New("account: not a hex address")
	}
	amount, err := uint256.FromDecimal(fields["amount"].GetStringValue())
	if err != nil {
		return ledger.Transfer{}, errors.New("amount: not a decimal integer")
	}
	return ledger.Transfer{
		Ref:     fields["ref"].GetStringValue(),
		Account: common.HexToAddress(account),
		Amount:  amount,
	}, nil
}

func toStatus(err error) error {
	// Реализация сама сформировала статус (например, RESOURCE_EXHAUSTED) — отдаем как есть
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ledger.ErrInvalidTransfer):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
