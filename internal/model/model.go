// Package model содержит доменные сущности маркетплейса.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStatus возвращается при разборе неизвестного статуса товара.
var ErrUnknownStatus = errors.New("unknown product status")

// ProductStatus описывает состояние товара в каталоге.
type ProductStatus uint8

const (
	ProductStatusAvailable ProductStatus = iota
	ProductStatusReserved
	ProductStatusSold
)

var productStatusNames = [...]string{
	ProductStatusAvailable: "available",
	ProductStatusReserved:  "reserved",
	ProductStatusSold:      "sold",
}

// Valid сообщает, входит ли значение в перечисление статусов.
func (s ProductStatus) Valid() bool {
	return int(s) < len(productStatusNames)
}

func (s ProductStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("ProductStatus(%d)", uint8(s))
	}
	return productStatusNames[s]
}

// ParseProductStatus разбирает текстовое имя статуса без учёта регистра.
func ParseProductStatus(name string) (ProductStatus, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range productStatusNames {
		if n == name {
			return ProductStatus(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
}

// MarshalText реализует encoding.TextMarshaler.
func (s ProductStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, uint8(s))
	}
	return []byte(productStatusNames[s]), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (s *ProductStatus) UnmarshalText(text []byte) error {
	v, err := ParseProductStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Product описывает товар каталога. После создания не изменяется.
type Product struct {
	Name   string        `json:"name"`
	Price  uint64        `json:"price"`
	Status ProductStatus `json:"status"`
}

// UserProfile описывает профиль пользователя. Нулевое значение соответствует
// незарегистрированному пользователю.
type UserProfile struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	IsRegistered bool   `json:"isRegistered"`
}

// Transfer описывает перевод средств между счетами.
type Transfer struct {
	From   Identity
	To     Identity
	Amount uint64
}

// Snapshot содержит полное состояние маркетплейса: товары в порядке добавления,
// профили и балансы по идентификаторам.
type Snapshot struct {
	Products []Product
	Users    map[Identity]UserProfile
	Balances map[Identity]uint64
}
