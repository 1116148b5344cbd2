package pricing

import (
	"fmt"
	"strings"

	"github.com/glazeapp/glaze/internal/config"
	"github.com/shopspring/decimal"
)

// Table resolves the generation cost per model. Prices come from config as a
// "model:price" list; unknown models fall back to the default price.
type Table struct {
	prices       map[string]decimal.Decimal
	defaultPrice decimal.Decimal
}

func NewTable(cfg *config.PricingConfig) (*Table, error) {
	defaultPrice, err := decimal.NewFromString(cfg.DefaultPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid default price %q: %w", cfg.DefaultPrice, err)
	}

	prices := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(cfg.ModelPrices, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, ":")
		if !found {
			return nil, fmt.Errorf("invalid price entry %q", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid price for model %q: %w", name, err)
		}
		prices[strings.ToLower(strings.TrimSpace(name))] = price
	}

	return &Table{prices: prices, defaultPrice: defaultPrice}, nil
}

// Cost returns the price of one generation with the given model.
func (t *Table) Cost(model string) decimal.Decimal {
	if price, ok := t.prices[strings.ToLower(model)]; ok {
		return price
	}
	return t.defaultPrice
}
