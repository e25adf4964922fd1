package capability

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/pitabwire/backoffice/model"
	"gopkg.in/yaml.v3"
)

// policyFile maps back-office roles to capabilities. A role listed under
// inherits also receives every capability of the roles it names.
type policyFile struct {
	Roles    map[string][]string `yaml:"roles"`
	Inherits map[string][]string `yaml:"inherits"`
}

// StaticPolicyEvaluator resolves capabilities from a YAML policy file.
// Capabilities are "resource:scope:action" strings; the final segment may
// be "*", and a lone "*" grants everything.
type StaticPolicyEvaluator struct {
	path string

	mu       sync.RWMutex
	expanded map[string]model.CapabilitySet
}

// NewStaticPolicyEvaluator creates an evaluator and loads the policy at path.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities returns the union of capabilities for every role of
// the session. Unknown roles grant nothing.
func (e *StaticPolicyEvaluator) ResolveCapabilities(s *model.Session) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, role := range s.Roles {
		for c := range e.expanded[role] {
			caps.Grant(c)
		}
	}
	return caps, nil
}

// Evaluate checks a single capability for the session.
func (e *StaticPolicyEvaluator) Evaluate(s *model.Session, capability string) (bool, error) {
	caps, err := e.ResolveCapabilities(s)
	if err != nil {
		return false, err
	}
	return caps.Has(capability), nil
}

// Roles returns the declared role names, sorted.
func (e *StaticPolicyEvaluator) Roles() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.expanded))
}

// Sync reloads the policy file. An unreadable or invalid file leaves the
// current policy in place.
func (e *StaticPolicyEvaluator) Sync() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", e.path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", e.path, err)
	}
	expanded, err := expand(p)
	if err != nil {
		return fmt.Errorf("capability: policy file %s: %w", e.path, err)
	}

	e.mu.Lock()
	e.expanded = expanded
	e.mu.Unlock()
	return nil
}

func expand(p policyFile) (map[string]model.CapabilitySet, error) {
	for role, caps := range p.Roles {
		for _, c := range caps {
			if err := checkCapability(c); err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
		}
	}
	for role, parents := range p.Inherits {
		if _, ok := p.Roles[role]; !ok {
			return nil, fmt.Errorf("inherits: unknown role %q", role)
		}
		for _, parent := range parents {
			if _, ok := p.Roles[parent]; !ok {
				return nil, fmt.Errorf("inherits: role %s names unknown role %q", role, parent)
			}
		}
	}

	out := make(map[string]model.CapabilitySet, len(p.Roles))
	for role := range p.Roles {
		set := make(model.CapabilitySet)
		seen := map[string]bool{}
		var walk func(r string)
		walk = func(r string) {
			if seen[r] {
				return
			}
			seen[r] = true
			set.Grant(p.Roles[r]...)
			for _, parent := range p.Inherits[r] {
				walk(parent)
			}
		}
		walk(role)
		out[role] = set
	}
	return out, nil
}

func checkCapability(c string) error {
	if c == "*" {
		return nil
	}
	parts := strings.Split(c, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("capability %q is not resource:scope:action", c)
	}
	for i, part := range parts {
		if part == "" {
			return fmt.Errorf("capability %q has an empty segment", c)
		}
		if part == "*" && i != len(parts)-1 {
			return fmt.Errorf("capability %q may only end in a wildcard", c)
		}
	}
	if len(parts) == 2 && parts[1] != "*" {
		return fmt.Errorf("capability %q is missing an action", c)
	}
	return nil
}
