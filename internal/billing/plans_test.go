package billing

import (
	"reflect"
	"testing"

	"subsync/internal/types"
)

func TestStaticPlanCatalog(t *testing.T) {
	catalog := NewStaticPlanCatalog(map[types.PlanName]string{
		types.PlanPro:        "price_pro",
		types.PlanEnterprise: "price_ent",
		types.PlanNone:       "price_bogus",
		"Team":               "",
	})

	if !catalog.HasPlan(types.PlanPro) || !catalog.HasPlan(types.PlanEnterprise) {
		t.Error("configured plans must be purchasable")
	}
	if catalog.HasPlan(types.PlanNone) {
		t.Error("none must never be purchasable")
	}
	if catalog.HasPlan("Team") {
		t.Error("a plan without a price must be dropped")
	}
	if catalog.HasPlan("pro") {
		t.Error("plan names are case sensitive")
	}
	if got, want := catalog.Names(), []string{"Enterprise", "Pro"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
