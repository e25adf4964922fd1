package metadata

import (
	"sort"

	"github.com/pitabwire/backoffice/model"
)

// DomainSource lists the loaded domain definitions.
type DomainSource interface {
	AllDomains() []model.DomainDefinition
}

// MenuProvider builds a NavigationTree from definitions filtered by
// capabilities.
type MenuProvider struct {
	registry DomainSource
}

// NewMenuProvider creates a MenuProvider backed by the given definitions.
func NewMenuProvider(registry DomainSource) *MenuProvider {
	return &MenuProvider{registry: registry}
}

// GetMenu builds the navigation tree from all domain definitions, keeping
// only the screens the capability set may open. Domains left without
// screens are omitted.
func (p *MenuProvider) GetMenu(caps model.CapabilitySet) NavigationTree {
	domains := p.registry.AllDomains()
	sort.SliceStable(domains, func(i, j int) bool {
		return domains[i].Navigation.Order < domains[j].Navigation.Order
	})

	nodes := []NavigationNode{}
	for _, domain := range domains {
		nav := domain.Navigation
		if len(nav.Capabilities) > 0 && !caps.HasAll(nav.Capabilities...) {
			continue
		}

		screens := make([]model.ScreenDefinition, 0, len(domain.Screens))
		for _, s := range domain.Screens {
			if CanView(caps, s) {
				screens = append(screens, s)
			}
		}
		if len(screens) == 0 {
			continue
		}
		sort.SliceStable(screens, func(i, j int) bool {
			return screens[i].Order < screens[j].Order
		})

		node := NavigationNode{
			ID:       domain.Domain,
			Label:    nav.Label,
			Icon:     nav.Icon,
			Children: make([]NavigationNode, len(screens)),
		}
		for i, s := range screens {
			node.Children[i] = NavigationNode{
				ID:    s.ID,
				Label: s.Title,
				Icon:  s.Icon,
				Route: s.Route,
			}
		}
		nodes = append(nodes, node)
	}

	return NavigationTree{Items: nodes}
}
