package pricing

import (
	"testing"

	"github.com/glazeapp/glaze/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableResolvesPrices(t *testing.T) {
	table, err := NewTable(&config.PricingConfig{
		ModelPrices:  "flux:5.00, sdxl:2.50,sd3:3.00",
		DefaultPrice: "5.00",
	})
	require.NoError(t, err)

	assert.True(t, table.Cost("flux").Equal(decimal.RequireFromString("5.00")))
	assert.True(t, table.Cost("SDXL").Equal(decimal.RequireFromString("2.50")))
	assert.True(t, table.Cost("unknown-model").Equal(decimal.RequireFromString("5.00")))
}

func TestTableRejectsBadEntries(t *testing.T) {
	_, err := NewTable(&config.PricingConfig{ModelPrices: "flux=5.00", DefaultPrice: "5.00"})
	assert.Error(t, err)

	_, err = NewTable(&config.PricingConfig{ModelPrices: "flux:abc", DefaultPrice: "5.00"})
	assert.Error(t, err)

	_, err = NewTable(&config.PricingConfig{ModelPrices: "", DefaultPrice: "nope"})
	assert.Error(t, err)
}
