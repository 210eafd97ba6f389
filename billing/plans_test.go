package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanCatalogByPriceID(t *testing.T) {
	catalog := NewPlanCatalog("price_pro", "price_biz", 5)

	pro, ok := catalog.ByPriceID("price_pro")
	assert.True(t, ok)
	assert.Equal(t, "Pro", pro.Name)
	assert.Equal(t, 100, pro.MaxImages)
	assert.Equal(t, int64(2900), pro.Amount)

	biz, ok := catalog.ByPriceID("price_biz")
	assert.True(t, ok)
	assert.Equal(t, "Business", biz.Name)
	assert.Equal(t, 500, biz.MaxImages)
	assert.Equal(t, int64(9900), biz.Amount)

	_, ok = catalog.ByPriceID("price_unknown")
	assert.False(t, ok)

	assert.Equal(t, 5, catalog.FreeTierMaxImages())
}
