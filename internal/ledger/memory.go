package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Memory — in-process реализация TokenLedger для dev-режима и тестов.
// Держит балансы внешних счетов и единый custody-счет хранилища.
type Memory struct {
	mu       sync.Mutex
	accounts map[common.Address]*uint256.Int
	custody  uint256.Int
	receipts map[string]Receipt

	// autoFund: плательщик без средств получает недостающую сумму (локальный стенд без эмиссии)
	autoFund bool
}

func NewMemory(autoFund bool) *Memory {
	return &Memory{
		accounts: make(map[common.Address]*uint256.Int),
		receipts: make(map[string]Receipt),
		autoFund: autoFund,
	}
}

// Mint зачисляет средства на внешний счет.
func (m *Memory) Mint(account common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account(account).Add(m.account(account), amount)
}

func (m *Memory) BalanceOf(account common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account(account).Clone()
}

func (m *Memory) Custody() *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.custody.Clone()
}

func (m *Memory) TransferIn(ctx context.Context, t Transfer) (Receipt, error) {
	return m.apply(ctx, t, func(acc *uint256.Int) error {
		if acc.Lt(t.Amount) {
			if !m.autoFund {
				return fmt.Errorf("%w: payer %s", ErrInsufficientFunds, t.Account.Hex())
			}
			acc.Set(t.Amount)
		}
		acc.Sub(acc, t.Amount)
		m.custody.Add(&m.custody, t.Amount)
		return nil
	})
}

func (m *Memory) TransferOut(ctx context.Context, t Transfer) (Receipt, error) {
	return m.apply(ctx, t, func(acc *uint256.Int) error {
		if m.custody.Lt(t.Amount) {
			return fmt.Errorf("%w: custody", ErrInsufficientFunds)
		}
		m.custody.Sub(&m.custody, t.Amount)
		acc.Add(acc, t.Amount)
		return nil
	})
}

func (m *Memory) apply(ctx context.Context, t Transfer, move func(acc *uint256.Int) error) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := t.validate(); err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.receipts[t.Ref]; ok {
		return r, nil
	}
	if err := move(m.account(t.Account)); err != nil {
		return Receipt{}, err
	}
	r := Receipt{Ref: t.Ref, TxID: uuid.NewString()}
	m.receipts[t.Ref] = r
	return r, nil
}

// account вызывается под m.mu.
func (m *Memory) account(a common.Address) *uint256.Int {
	acc, ok := m.accounts[a]
	if !ok {
		acc = new(uint256.Int)
		m.accounts[a] = acc
	}
	return acc
}
