package catalog

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Product is a sellable catalog entry.
type Product struct {
	ID           string
	Name         string
	RegularPrice decimal.Decimal
	SalePrice    *decimal.Decimal
}

// Price is the amount a customer pays: the sale price when one is set.
func (p Product) Price() decimal.Decimal {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.RegularPrice
}

// Catalog is a read-only price lookup keyed by product id.
type Catalog struct {
	products map[string]Product
}

type fileProduct struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	RegularPrice string `yaml:"regular_price"`
	SalePrice    string `yaml:"sale_price,omitempty"`
}

type file struct {
	Products []fileProduct `yaml:"products"`
}

// Load reads a catalog YAML file. Unknown keys are rejected.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var raw file
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	products := make(map[string]Product, len(raw.Products))
	for i, p := range raw.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog product %d: id required", i)
		}
		if _, dup := products[id]; dup {
			return nil, fmt.Errorf("catalog product %q: duplicate id", id)
		}
		regular, err := decimal.NewFromString(strings.TrimSpace(p.RegularPrice))
		if err != nil {
			return nil, fmt.Errorf("catalog product %q: regular_price: %w", id, err)
		}
		product := Product{ID: id, Name: p.Name, RegularPrice: regular}
		if strings.TrimSpace(p.SalePrice) != "" {
			sale, err := decimal.NewFromString(strings.TrimSpace(p.SalePrice))
			if err != nil {
				return nil, fmt.Errorf("catalog product %q: sale_price: %w", id, err)
			}
			product.SalePrice = &sale
		}
		products[id] = product
	}
	return &Catalog{products: products}, nil
}

// Lookup returns the product for id.
func (c *Catalog) Lookup(id string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	p, ok := c.products[strings.TrimSpace(id)]
	return p, ok
}

// Len reports how many products are loaded.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.products)
}

// UnitPrice returns the customer price for id.
func (c *Catalog) UnitPrice(id string) (decimal.Decimal, bool) {
	p, ok := c.Lookup(id)
	if !ok {
		return decimal.Zero, false
	}
	return p.Price(), true
}
