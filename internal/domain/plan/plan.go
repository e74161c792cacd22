// Package plan defines the fixed catalog of quota plans.
package plan

// Tier is a named quota class.
type Tier string

// Known plan tiers.
const (
	TierFree          Tier = "free"
	TierStarter       Tier = "starter"
	TierMiniDeveloper Tier = "mini_developer"
	TierDeveloper     Tier = "developer"
	TierGigaDeveloper Tier = "giga_developer"
)

// Plan is an immutable quota class description.
type Plan struct {
	Tier         Tier
	TokensPerDay int64
	Label        string
	Price        string
	Color        string
	Badge        string
}

// Catalog is an immutable tier lookup table built once at process start.
type Catalog struct {
	plans map[Tier]Plan
	order []Tier
}

// NewCatalog builds the default plan catalog.
func NewCatalog() Catalog {
	plans := []Plan{
		{Tier: TierFree, TokensPerDay: 100_000, Label: "Free", Price: "0 zł/mies", Color: "#6b7280", Badge: "🆓"},
		{Tier: TierStarter, TokensPerDay: 500_000, Label: "Starter", Price: "40 zł/mies", Color: "#7c5aff", Badge: "⚡"},
		{Tier: TierMiniDeveloper, TokensPerDay: 1_250_000, Label: "Mini Developer", Price: "80 zł/mies", Color: "#3b82f6", Badge: "🔧"},
		{Tier: TierDeveloper, TokensPerDay: 3_000_000, Label: "Developer", Price: "160 zł/mies", Color: "#10b981", Badge: "💻"},
		{Tier: TierGigaDeveloper, TokensPerDay: 7_000_000, Label: "Giga Developer", Price: "350 zł/mies", Color: "#f59e0b", Badge: "🚀"},
	}

	c := Catalog{plans: make(map[Tier]Plan, len(plans)), order: make([]Tier, 0, len(plans))}
	for _, p := range plans {
		c.plans[p.Tier] = p
		c.order = append(c.order, p.Tier)
	}
	return c
}

// Get returns the plan for a tier. Unknown tiers degrade to the free plan.
func (c Catalog) Get(tier Tier) Plan {
	if p, ok := c.plans[tier]; ok {
		return p
	}
	return c.plans[TierFree]
}

// All returns every plan in catalog order.
func (c Catalog) All() []Plan {
	out := make([]Plan, len(c.order))
	for i, t := range c.order {
		out[i] = c.plans[t]
	}
	return out
}
