package marketplace

import (
	"fmt"
	"slices"

	"github.com/mmeshcher/marketplace/internal/model"
)

// Catalog хранит упорядоченный список товаров, допускающий только добавление.
// Значение Catalog не изменяется после публикации: Create возвращает новый каталог.
type Catalog struct {
	products []model.Product
}

// NewCatalog создаёт каталог из товаров в порядке их добавления.
func NewCatalog(products []model.Product) (*Catalog, error) {
	for i, p := range products {
		if err := validateProduct(p); err != nil {
			return nil, fmt.Errorf("product %d: %w", i, err)
		}
	}
	return &Catalog{products: slices.Clone(products)}, nil
}

func validateProduct(p model.Product) error {
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown product status %d", ErrValidation, uint8(p.Status))
	}
	return nil
}

// Create возвращает каталог с добавленным товаром и индекс товара.
func (c *Catalog) Create(p model.Product) (*Catalog, int, error) {
	if err := validateProduct(p); err != nil {
		return nil, 0, err
	}
	next := &Catalog{products: append(slices.Clip(c.products), p)}
	return next, len(c.products), nil
}

// List возвращает копию списка товаров в порядке добавления.
func (c *Catalog) List() []model.Product {
	out := make([]model.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Len возвращает количество товаров.
func (c *Catalog) Len() int {
	return len(c.products)
}
