package strategy

import (
	"github.com/maltedev/marketplace-extractor/internal/models"
)

// chainOrder fixes the cost ordering of strategies per marketplace. Item APIs
// go first where they bypass HTML entirely.
var chainOrder = map[models.Marketplace][]string{
	models.MarketplaceShopee:       {NameAPI, NameStatic, NameBrowser, NameProxy},
	models.MarketplaceMercadoLivre: {NameStatic, NameAPI, NameBrowser, NameProxy},
}

var defaultOrder = []string{NameStatic, NameBrowser, NameProxy}

// Registry keeps strategy implementations by name and hands out the ordered
// chain for a marketplace.
type Registry struct {
	strategies map[string]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: map[string]Strategy{}}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a strategy implementation.
func (r *Registry) Register(s Strategy) {
	if s == nil {
		return
	}
	r.strategies[s.Name()] = s
}

// Chain returns the strategies to try for mp in order. Unregistered names are
// left out, and so is the browser when the caller asked to skip automation.
func (r *Registry) Chain(mp models.Marketplace, opts models.Options) []Strategy {
	order, ok := chainOrder[mp]
	if !ok {
		order = defaultOrder
	}

	chain := make([]Strategy, 0, len(order))
	for _, name := range order {
		if name == NameBrowser && opts.SkipBrowserAutomation {
			continue
		}
		if s, ok := r.strategies[name]; ok {
			chain = append(chain, s)
		}
	}
	return chain
}
