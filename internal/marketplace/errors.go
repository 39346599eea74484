package marketplace

import (
	"errors"

	"github.com/mmeshcher/marketplace/internal/model"
)

var (
	// ErrValidation возвращается при некорректных входных данных: неизвестный статус,
	// нулевая сумма перевода, перевод самому себе.
	ErrValidation = errors.New("validation error")
	// ErrAlreadyRegistered возвращается при повторной регистрации пользователя.
	ErrAlreadyRegistered = errors.New("user already registered")
	// ErrInsufficientBalance возвращается, если баланс отправителя меньше суммы перевода.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCorruptLedger возвращается, если балансы леджера превышают общий объём средств.
	ErrCorruptLedger = errors.New("corrupt ledger")
	// ErrInvalidIdentity возвращается для некорректного адреса счёта.
	ErrInvalidIdentity = model.ErrInvalidIdentity
)
