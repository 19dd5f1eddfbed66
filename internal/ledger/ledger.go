// Package ledger ведёт баланс купленных единиц доступа.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/mmeshcher/accessgate/internal/apperr"
)

// BalanceKey ключ, под которым хранится баланс.
const BalanceKey = "credits"

// Store описывает хранилище ключ-значение, в котором живёт баланс.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Ledger хранит баланс и изменяет его по схеме чтение-изменение-запись под одной блокировкой.
type Ledger struct {
	store Store
	mu    sync.Mutex
}

// New создаёт журнал поверх указанного хранилища.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Apply возвращает баланс после зачисления amount. amount должен быть положительным.
func Apply(balance, amount int64) (int64, error) {
	if amount <= 0 {
		return balance, apperr.New(apperr.InvalidAmount)
	}
	if balance > (1<<63-1)-amount {
		return balance, fmt.Errorf("balance overflow")
	}
	return balance + amount, nil
}

// Balance возвращает текущий баланс. Отсутствие сохранённого значения означает ноль.
func (l *Ledger) Balance(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.load(ctx)
}

// HasBalance сообщает, есть ли на балансе хотя бы одна единица.
func (l *Ledger) HasBalance(ctx context.Context) (bool, error) {
	balance, err := l.Balance(ctx)
	if err != nil {
		return false, err
	}
	return balance > 0, nil
}

// Credit зачисляет amount и возвращает новый баланс после сохранения.
func (l *Ledger) Credit(ctx context.Context, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.load(ctx)
	if err != nil {
		return 0, err
	}

	next, err := Apply(balance, amount)
	if err != nil {
		return balance, err
	}

	if err := l.store.Set(ctx, BalanceKey, strconv.FormatInt(next, 10)); err != nil {
		return balance, fmt.Errorf("persist balance: %w", err)
	}

	return next, nil
}

func (l *Ledger) load(ctx context.Context) (int64, error) {
	raw, ok, err := l.store.Get(ctx, BalanceKey)
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	if !ok {
		return 0, nil
	}

	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || balance < 0 {
		return 0, fmt.Errorf("corrupt balance %q", raw)
	}

	return balance, nil
}
