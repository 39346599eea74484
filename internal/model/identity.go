package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidIdentity возвращается для некорректного адреса счёта.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity это адрес счёта фиксированной длины. Используется как ключ реестра
// пользователей и леджера.
type Identity common.Address

// ParseIdentity разбирает адрес в шестнадцатеричном виде с префиксом 0x.
// Нулевой адрес считается некорректным.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return Identity{}, fmt.Errorf("%w: missing 0x prefix: %q", ErrInvalidIdentity, s)
	}
	if !common.IsHexAddress(s) {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	id := Identity(common.HexToAddress(s))
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// MustParseIdentity разбирает адрес и паникует при ошибке. Предназначена для тестов и констант.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Validate проверяет корректность адреса.
func (id Identity) Validate() error {
	if id.IsZero() {
		return fmt.Errorf("%w: zero address", ErrInvalidIdentity)
	}
	return nil
}

// IsZero сообщает, является ли адрес нулевым.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// Hex возвращает адрес в формате EIP-55.
func (id Identity) Hex() string {
	return common.Address(id).Hex()
}

func (id Identity) String() string {
	return id.Hex()
}

// MarshalText реализует encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	v, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
