// Package billing projects Stripe subscription events onto local
// subscription and user state.
package billing

type Plan struct {
	Name      string `json:"name"`
	PriceID   string `json:"price_id"`
	MaxImages int    `json:"max_images"`
	// Amount is the monthly price in cents, for display.
	Amount int64 `json:"amount"`
}

// PlanCatalog maps Stripe price IDs to the entitlements they grant.
type PlanCatalog struct {
	plans     []Plan
	byPriceID map[string]Plan
	freeMax   int
}

func NewPlanCatalog(proPriceID, businessPriceID string, freeTierMaxImages int) *PlanCatalog {
	plans := []Plan{
		{Name: "Pro", PriceID: proPriceID, MaxImages: 100, Amount: 2900},
		{Name: "Business", PriceID: businessPriceID, MaxImages: 500, Amount: 9900},
	}

	byPriceID := make(map[string]Plan, len(plans))
	for _, p := range plans {
		byPriceID[p.PriceID] = p
	}

	return &PlanCatalog{plans: plans, byPriceID: byPriceID, freeMax: freeTierMaxImages}
}

func (c *PlanCatalog) ByPriceID(priceID string) (Plan, bool) {
	p, ok := c.byPriceID[priceID]
	return p, ok
}

// Plans returns the paid plans in display order.
func (c *PlanCatalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

func (c *PlanCatalog) FreeTierMaxImages() int {
	return c.freeMax
}
