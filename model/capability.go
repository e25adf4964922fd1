package model

import "strings"

// CapabilitySet holds the capabilities granted to an operator. Keys are
// "resource:scope:action" strings; a key ending in ":*" grants everything
// below its prefix and a lone "*" grants everything.
type CapabilitySet map[string]bool

// Has reports whether cap is granted exactly or through a wildcard on one
// of its prefixes.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] || cs["*"] {
		return true
	}
	for i := range len(cap) {
		if cap[i] == ':' && cs[cap[:i+1]+"*"] {
			return true
		}
	}
	return false
}

// HasAll reports whether every cap is granted. No caps means no requirement.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, c := range caps {
		if !cs.Has(c) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one cap is granted.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, c := range caps {
		if cs.Has(c) {
			return true
		}
	}
	return false
}

// Grant adds caps to the set.
func (cs CapabilitySet) Grant(caps ...string) {
	for _, c := range caps {
		if c = strings.TrimSpace(c); c != "" {
			cs[c] = true
		}
	}
}

// CapabilityResolver resolves the capability set for a session.
type CapabilityResolver interface {
	Resolve(s *Session) (CapabilitySet, error)
	Invalidate(subjectID string)
}

// PolicyEvaluator maps a session's roles to capabilities.
type PolicyEvaluator interface {
	ResolveCapabilities(s *Session) (CapabilitySet, error)
	// Sync refreshes policy data from its source.
	Sync() error
}

// Back-office capability names. Screen definitions reference these and may
// add their own.
const (
	CapCategoriesView   = "categories:list:view"
	CapCategoriesManage = "categories:item:manage"
	CapServicesView     = "services:list:view"
	CapServicesManage   = "services:item:manage"
	CapUsersView        = "users:list:view"
	CapUsersManage      = "users:item:manage"
	CapBookingsView     = "bookings:list:view"
	CapBookingsStatus   = "bookings:status:change"
	CapStaffBookings    = "staff:bookings:view"
	CapSchedulesView    = "schedules:list:view"
	CapSchedulesManage  = "schedules:item:manage"
)
