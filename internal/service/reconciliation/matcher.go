package reconciliation

import (
	"fmt"
	"strings"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
)

// MatchPolicy selects how record application names are mapped to settings.
type MatchPolicy string

const (
	MatchExact    MatchPolicy = "exact"
	MatchPrefix   MatchPolicy = "prefix"
	MatchContains MatchPolicy = "contains"
)

// ParseMatchPolicy accepts a policy name; an empty string selects exact.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch MatchPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchExact:
		return MatchExact, nil
	case MatchPrefix:
		return MatchPrefix, nil
	case MatchContains:
		return MatchContains, nil
	default:
		return "", errors.NewConfigurationError("matching_policy",
			fmt.Sprintf("unknown matching policy %q", s))
	}
}

// ApplicationMatcher resolves the setting governing an application name.
type ApplicationMatcher interface {
	Match(applicationName string) (elevation.Setting, bool)
}

// NewMatcher builds the matcher for a policy over the registry.
func NewMatcher(policy MatchPolicy, registry *elevation.Registry) (ApplicationMatcher, error) {
	if registry == nil {
		return nil, errors.NewValidationError("NIL_REGISTRY", "settings registry is required")
	}

	switch policy {
	case "", MatchExact:
		return exactMatcher{registry: registry}, nil
	case MatchPrefix:
		return newFuzzyMatcher(registry, strings.HasPrefix), nil
	case MatchContains:
		return newFuzzyMatcher(registry, strings.Contains), nil
	default:
		return nil, errors.NewConfigurationError("matching_policy",
			fmt.Sprintf("unknown matching policy %q", policy))
	}
}

type exactMatcher struct {
	registry *elevation.Registry
}

func (m exactMatcher) Match(applicationName string) (elevation.Setting, bool) {
	if strings.TrimSpace(applicationName) == "" {
		return elevation.Setting{}, false
	}
	return m.registry.Lookup(applicationName)
}

// fuzzyMatcher picks the longest setting name satisfying the predicate;
// ties go to the earlier setting in registry order.
type fuzzyMatcher struct {
	settings []elevation.Setting
	test     func(target, key string) bool
}

func newFuzzyMatcher(registry *elevation.Registry, test func(s, substr string) bool) fuzzyMatcher {
	return fuzzyMatcher{settings: registry.Settings(), test: test}
}

func (m fuzzyMatcher) Match(applicationName string) (elevation.Setting, bool) {
	target := strings.ToLower(strings.TrimSpace(applicationName))
	if target == "" {
		return elevation.Setting{}, false
	}

	var best elevation.Setting
	found := false
	for _, s := range m.settings {
		key := s.Key()
		if !m.test(target, key) {
			continue
		}
		if !found || len(key) > len(best.Key()) {
			best = s
			found = true
		}
	}
	return best, found
}
