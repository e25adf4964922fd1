// Package capability resolves and caches operator capabilities from a
// static role policy.
package capability

import (
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/backoffice/model"
)

type grant struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver caches the evaluator's answer per subject and role combination.
// Concurrent misses for the same combination share one evaluation. A zero
// ttl disables caching.
type Resolver struct {
	evaluator model.PolicyEvaluator
	ttl       time.Duration
	now       func() time.Time
	inflight  singleflight.Group

	mu     sync.Mutex
	grants map[string]map[string]grant // subject -> sorted roles -> grant
}

// NewResolver creates a Resolver in front of evaluator.
func NewResolver(evaluator model.PolicyEvaluator, ttl time.Duration) *Resolver {
	return &Resolver{
		evaluator: evaluator,
		ttl:       ttl,
		now:       time.Now,
		grants:    map[string]map[string]grant{},
	}
}

// roleKey is order independent so a token listing the same roles in another
// order hits the cache, while a token with new roles misses it.
func roleKey(roles []string) string {
	sorted := slices.Clone(roles)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), ",")
}

// Resolve returns the capability set of s.
func (r *Resolver) Resolve(s *model.Session) (model.CapabilitySet, error) {
	roles := roleKey(s.Roles)
	if caps, ok := r.cached(s.SubjectID, roles); ok {
		return caps, nil
	}

	v, err, _ := r.inflight.Do(s.SubjectID+"\x00"+roles, func() (any, error) {
		caps, err := r.evaluator.ResolveCapabilities(s)
		if err != nil {
			return nil, err
		}
		r.store(s.SubjectID, roles, caps)
		return caps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(model.CapabilitySet), nil
}

func (r *Resolver) cached(subject, roles string) (model.CapabilitySet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[subject][roles]
	if !ok {
		return nil, false
	}
	if !r.now().Before(g.expires) {
		delete(r.grants[subject], roles)
		return nil, false
	}
	return g.caps, true
}

func (r *Resolver) store(subject, roles string, caps model.CapabilitySet) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byRoles := r.grants[subject]
	if byRoles == nil {
		byRoles = map[string]grant{}
		r.grants[subject] = byRoles
	}
	byRoles[roles] = grant{caps: caps, expires: r.now().Add(r.ttl)}
}

// Invalidate drops every cached set for subjectID.
func (r *Resolver) Invalidate(subjectID string) {
	r.mu.Lock()
	delete(r.grants, subjectID)
	r.mu.Unlock()
}

// InvalidateAll drops the whole cache; called after the policy reloads.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	clear(r.grants)
	r.mu.Unlock()
}
