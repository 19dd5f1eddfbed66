// Package catalog содержит статический каталог пакетов доступа.
package catalog

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/accessgate/internal/model"
)

const checkoutBaseURL = "https://payhip.com/b/"

// Catalog хранит упорядоченный неизменяемый список пакетов доступа.
type Catalog struct {
	packages []model.AccessPackage
}

// Default возвращает каталог, которым сервис торгует по умолчанию.
func Default() *Catalog {
	c, err := New([]model.AccessPackage{
		{ProductID: "2wOUu", Label: "5 min", Duration: 5 * time.Minute, PriceSats: 2000, PriceUSD: 3},
		{ProductID: "cThEx", Label: "10 min", Duration: 10 * time.Minute, PriceSats: 4000, PriceUSD: 5},
		{ProductID: "CAtN2", Label: "30 min", Duration: 30 * time.Minute, PriceSats: 6000, PriceUSD: 7},
		{ProductID: "Dm7O3", Label: "60 min", Duration: 60 * time.Minute, PriceSats: 10000, PriceUSD: 10},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// New проверяет пакеты и создаёт каталог. Идентификаторы продуктов должны быть уникальны.
func New(packages []model.AccessPackage) (*Catalog, error) {
	if len(packages) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	validate := validator.New()
	seen := make(map[string]struct{}, len(packages))
	for i, p := range packages {
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("package %d: %w", i, err)
		}
		if _, ok := seen[p.ProductID]; ok {
			return nil, fmt.Errorf("duplicate product id %q", p.ProductID)
		}
		seen[p.ProductID] = struct{}{}
	}

	return &Catalog{packages: append([]model.AccessPackage(nil), packages...)}, nil
}

// Packages возвращает копию списка пакетов в порядке каталога.
func (c *Catalog) Packages() []model.AccessPackage {
	return append([]model.AccessPackage(nil), c.packages...)
}

// ByProductID ищет пакет по внешнему идентификатору продукта.
func (c *Catalog) ByProductID(id string) (model.AccessPackage, bool) {
	for _, p := range c.packages {
		if p.ProductID == id {
			return p, true
		}
	}
	return model.AccessPackage{}, false
}

// CheckoutURL возвращает адрес оплаты картой для пакета.
func CheckoutURL(p model.AccessPackage) string {
	return checkoutBaseURL + p.ProductID
}
