// Package ledger описывает контракт Token Ledger — внешнего хранителя токенов,
// которому движок поручает реальное движение средств.
package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidTransfer   = errors.New("ledger: invalid transfer")
)

// Transfer — одно движение между внешним счетом и custody-счетом хранилища.
// Ref — ключ идемпотентности: повтор с тем же Ref возвращает исходную квитанцию.
type Transfer struct {
	Ref     string
	Account common.Address // плательщик для TransferIn, получатель для TransferOut
	Amount  *uint256.Int
}

type Receipt struct {
	Ref  string `json:"ref"`
	TxID string `json:"tx_id"`
}

type TokenLedger interface {
	// TransferIn списывает Amount со счета Account в custody хранилища.
	TransferIn(ctx context.Context, t Transfer) (Receipt, error)
	// TransferOut переводит Amount из custody на счет Account.
	TransferOut(ctx context.Context, t Transfer) (Receipt, error)
}

func (t Transfer) validate() error {
	if t.Ref == "" || t.Amount == nil || t.Amount.IsZero() || t.Account == (common.Address{}) {
		return ErrInvalidTransfer
	}
	return nil
}
