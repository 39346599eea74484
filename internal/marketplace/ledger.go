package marketplace

import (
	"fmt"
	"maps"
	"math/bits"

	"github.com/mmeshcher/marketplace/internal/model"
)

// Ledger хранит балансы счетов. Переводы сохраняют общую сумму средств.
type Ledger struct {
	balances map[model.Identity]uint64
	supply   uint64
}

// NewLedger создаёт леджер с начальным распределением средств.
// Счета с нулевым балансом не хранятся.
func NewLedger(genesis map[model.Identity]uint64) (*Ledger, error) {
	l := &Ledger{balances: make(map[model.Identity]uint64, len(genesis))}
	for id, amount := range genesis {
		if err := id.Validate(); err != nil {
			return nil, err
		}
		if amount == 0 {
			continue
		}
		sum, carry := bits.Add64(l.supply, amount, 0)
		if carry != 0 {
			return nil, fmt.Errorf("%w: genesis total supply overflows", ErrValidation)
		}
		l.supply = sum
		l.balances[id] = amount
	}
	return l, nil
}

// BalanceOf возвращает баланс счёта; для неизвестного счёта 0.
func (l *Ledger) BalanceOf(id model.Identity) uint64 {
	return l.balances[id]
}

// TotalSupply возвращает сумму всех балансов.
func (l *Ledger) TotalSupply() uint64 {
	return l.supply
}

// Len возвращает количество счетов с ненулевым балансом.
func (l *Ledger) Len() int {
	return len(l.balances)
}

// Balances возвращает копию всех ненулевых балансов.
func (l *Ledger) Balances() map[model.Identity]uint64 {
	return maps.Clone(l.balances)
}

// Transfer возвращает леджер, в котором amount списан с from и зачислен на to.
// Исходный леджер не изменяется. При allowSelf перевод самому себе проверяет
// баланс и возвращает тот же леджер.
func (l *Ledger) Transfer(t model.Transfer, allowSelf bool) (*Ledger, error) {
	if err := t.From.Validate(); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	if err := t.To.Validate(); err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	if t.Amount == 0 {
		return nil, fmt.Errorf("%w: transfer amount must be positive", ErrValidation)
	}
	if t.From == t.To && !allowSelf {
		return nil, fmt.Errorf("%w: self transfer to %s", ErrValidation, t.From)
	}

	fromBefore := l.balances[t.From]
	if fromBefore < t.Amount {
		return nil, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, t.From, fromBefore, t.Amount)
	}
	if t.From == t.To {
		return l, nil
	}

	toBefore := l.balances[t.To]
	// supply >= fromBefore + toBefore, иначе леджер повреждён и сложение
	// ниже могло бы переполниться.
	if fromBefore > l.supply || toBefore > l.supply-fromBefore {
		return nil, fmt.Errorf("%w: balances of %s and %s exceed supply %d", ErrCorruptLedger, t.From, t.To, l.supply)
	}
	fromAfter := fromBefore - t.Amount
	toAfter := toBefore + t.Amount

	balances := maps.Clone(l.balances)
	if fromAfter == 0 {
		delete(balances, t.From)
	} else {
		balances[t.From] = fromAfter
	}
	balances[t.To] = toAfter

	return &Ledger{balances: balances, supply: l.supply}, nil
}
