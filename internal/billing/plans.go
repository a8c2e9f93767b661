// Package billing holds the subscription reconciliation core: webhook event
// normalization, the per-user subscription state machine, and checkout
// initiation.
package billing

import (
	"sort"

	"subsync/internal/types"
)

// PlanCatalog is the set of plans a user may purchase.
type PlanCatalog interface {
	// HasPlan reports whether plan can be sold. PlanNone never can.
	HasPlan(plan types.PlanName) bool
	// Names lists purchasable plans in sorted order.
	Names() []string
}

type staticPlanCatalog struct {
	prices map[types.PlanName]string
}

// NewStaticPlanCatalog returns a catalog backed by the configured
// plan -> price mapping. Entries with an empty price are dropped.
func NewStaticPlanCatalog(prices map[types.PlanName]string) PlanCatalog {
	m := make(map[types.PlanName]string, len(prices))
	for plan, price := range prices {
		if plan == "" || plan == types.PlanNone || price == "" {
			continue
		}
		m[plan] = price
	}
	return &staticPlanCatalog{prices: m}
}

func (c *staticPlanCatalog) HasPlan(plan types.PlanName) bool {
	_, ok := c.prices[plan]
	return ok
}

func (c *staticPlanCatalog) Names() []string {
	names := make([]string, 0, len(c.prices))
	for plan := range c.prices {
		names = append(names, string(plan))
	}
	sort.Strings(names)
	return names
}
