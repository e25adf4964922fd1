package definition

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync/atomic"

	"github.com/pitabwire/backoffice/model"
)

// catalog is one immutable generation of loaded definitions. Domains and
// screens are kept presorted so readers never sort on the request path.
type catalog struct {
	domains  []model.DomainDefinition
	screens  []model.ScreenDefinition
	byDomain map[string]int
	byScreen map[string]int
	lookups  map[string]model.LookupDefinition
	checksum string
}

// Registry serves the current catalog to concurrent readers. Replace
// publishes a new generation with a single pointer store.
type Registry struct {
	cur atomic.Pointer[catalog]
}

// NewRegistry creates a Registry holding defs.
func NewRegistry(defs []model.DomainDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace publishes defs as the new catalog. A later definition with the
// same domain, screen or lookup ID wins.
func (r *Registry) Replace(defs []model.DomainDefinition) {
	r.cur.Store(buildCatalog(defs))
}

func buildCatalog(defs []model.DomainDefinition) *catalog {
	domains := map[string]model.DomainDefinition{}
	screens := map[string]model.ScreenDefinition{}
	c := &catalog{lookups: map[string]model.LookupDefinition{}}
	sums := make([]string, 0, len(defs))
	for _, def := range defs {
		domains[def.Domain] = def
		sums = append(sums, def.Checksum)
		for _, sc := range def.Screens {
			screens[sc.ID] = sc
		}
		for _, lk := range def.Lookups {
			c.lookups[lk.ID] = lk
		}
	}

	for _, d := range domains {
		c.domains = append(c.domains, d)
	}
	slices.SortFunc(c.domains, func(a, b model.DomainDefinition) int {
		return cmp.Or(cmp.Compare(a.Navigation.Order, b.Navigation.Order), cmp.Compare(a.Domain, b.Domain))
	})
	for _, sc := range screens {
		c.screens = append(c.screens, sc)
	}
	slices.SortFunc(c.screens, func(a, b model.ScreenDefinition) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
	})

	c.byDomain = make(map[string]int, len(c.domains))
	for i, d := range c.domains {
		c.byDomain[d.Domain] = i
	}
	c.byScreen = make(map[string]int, len(c.screens))
	for i, sc := range c.screens {
		c.byScreen[sc.ID] = i
	}

	slices.Sort(sums)
	h := sha256.New()
	for _, s := range sums {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	c.checksum = hex.EncodeToString(h.Sum(nil))
	return c
}

// GetDomain returns the domain named domainID.
func (r *Registry) GetDomain(domainID string) (model.DomainDefinition, bool) {
	c := r.cur.Load()
	i, ok := c.byDomain[domainID]
	if !ok {
		return model.DomainDefinition{}, false
	}
	return c.domains[i], true
}

// GetScreen returns the screen with the given ID.
func (r *Registry) GetScreen(screenID string) (model.ScreenDefinition, bool) {
	c := r.cur.Load()
	i, ok := c.byScreen[screenID]
	if !ok {
		return model.ScreenDefinition{}, false
	}
	return c.screens[i], true
}

func (r *Registry) GetLookup(lookupID string) (model.LookupDefinition, bool) {
	l, ok := r.cur.Load().lookups[lookupID]
	return l, ok
}

// AllDomains returns the domains in navigation order.
func (r *Registry) AllDomains() []model.DomainDefinition {
	return slices.Clone(r.cur.Load().domains)
}

// AllScreens returns every screen by order, then ID.
func (r *Registry) AllScreens() []model.ScreenDefinition {
	return slices.Clone(r.cur.Load().screens)
}

// Counts reports how many screens and lookups are loaded.
func (r *Registry) Counts() (screens, lookups int) {
	c := r.cur.Load()
	return len(c.screens), len(c.lookups)
}

// Checksum identifies the loaded definition set; it changes whenever any
// file does.
func (r *Registry) Checksum() string {
	return r.cur.Load().checksum
}
