// Package plan содержит статический каталог тарифов.
// Каталог — единственный источник правды о цене и SLA-часах: им пользуются
// и инициатор чекаута, и обработчик вебхуков, поэтому разойтись они не могут.
package plan

import "github.com/dewcredit/creditcase-system/internal/model"

// DefaultSLAHours применяется, когда product id из события оплаты
// не найден в каталоге. Деградированный режим, не тихий успех.
const DefaultSLAHours = 96

// Plan описывает один покупаемый тариф.
type Plan struct {
	ID              string
	Name            string
	PriceCents      int64
	Currency        string
	Type            model.PlanType
	StripeProductID string
	StripePriceID   string
	SLAHours        int
	Features        []string
}

var catalog = []Plan{
	{
		ID:              "basic",
		Name:            "Basic Credit Removal (Up to 5 Items)",
		PriceCents:      50000,
		Currency:        "USD",
		Type:            model.PlanTypeBasic,
		StripeProductID: "prod_TShIlDnMvP5PDA",
		StripePriceID:   "price_1SVlu5DdYjAsmtGqhsQM4snp",
		SLAHours:        96,
		Features: []string{
			"4-day guaranteed removal",
			"Up to 5 negative items",
			"Encrypted document storage",
			"Email support",
		},
	},
	{
		ID:              "premium",
		Name:            "Premium Credit Removal (Unlimited Items)",
		PriceCents:      75000,
		Currency:        "USD",
		Type:            model.PlanTypePremium,
		StripeProductID: "prod_TTjrK08A2jyPCK",
		StripePriceID:   "price_1SWmNQDdYjAsmtGqnBx3GgZs",
		SLAHours:        96,
		Features: []string{
			"Unlimited items removed",
			"4-day guarantee per batch",
			"VIP 24/7 support",
			"Dedicated agent",
		},
	},
	{
		ID:              "chexsystems",
		Name:            "24-Hour ChexSystems Removal",
		PriceCents:      40000,
		Currency:        "USD",
		Type:            model.PlanTypeBasic,
		StripeProductID: "prod_TTjtA4Yuwg9nTV",
		StripePriceID:   "price_1SWmPvDdYjAsmtGqe4wUgKQE",
		SLAHours:        24,
		Features: []string{
			"24-hour guaranteed removal",
			"Full ChexSystems report deletion",
			"Bank account access restored",
		},
	},
	{
		ID:              "mentorship",
		Name:            "Credit Mentorship Add-On",
		PriceCents:      120000,
		Currency:        "USD",
		Type:            model.PlanTypeEnterprise,
		StripeProductID: "prod_TTk9EbANUHa5jE",
		StripePriceID:   "price_1SWmeqDdYjAsmtGqDKZPTdDf",
		SLAHours:        96,
		Features: []string{
			"One-on-one credit mentorship",
			"Monthly strategy sessions",
			"Ongoing support for 6 months",
		},
	},
	{
		// Сезонный тариф продаётся через платёжную ссылку Stripe,
		// отдельного product id у него нет.
		ID:         "christmas",
		Name:       "Christmas Credit Special",
		PriceCents: 30000,
		Currency:   "USD",
		Type:       model.PlanTypeBasic,
		SLAHours:   96,
		Features: []string{
			"Collections removal",
			"Charge-offs",
			"Repos",
			"Late payments",
		},
	},
}

var (
	byID      = map[string]*Plan{}
	byProduct = map[string]*Plan{}
	byPrice   = map[string]*Plan{}
)

func init() {
	for i := range catalog {
		p := &catalog[i]
		byID[p.ID] = p
		if p.StripeProductID != "" {
			byProduct[p.StripeProductID] = p
		}
		if p.StripePriceID != "" {
			byPrice[p.StripePriceID] = p
		}
	}
}

// Resolve возвращает тариф по его идентификатору.
func Resolve(planID string) (*Plan, bool) {
	p, ok := byID[planID]
	return p, ok
}

// ResolveByProduct возвращает тариф по stripe product id. Поиск идёт по
// идентификатору продукта, а не по отображаемому имени: переименованный
// продукт не должен ломать сопоставление.
func ResolveByProduct(productID string) (*Plan, bool) {
	p, ok := byProduct[productID]
	return p, ok
}

// AllowedPriceID сообщает, входит ли price id в явный allow-list каталога.
// Произвольный price id от клиента в Stripe не уходит.
func AllowedPriceID(priceID string) bool {
	_, ok := byPrice[priceID]
	return ok
}

// All возвращает все тарифы каталога.
func All() []Plan {
	return catalog
}
