package elevation

import "fmt"

// Registry is the in-memory list of authorization settings for one run.
// It is immutable once built. Duplicate names are resolved first-one-wins.
type Registry struct {
	settings []Setting
	byKey    map[string]int
}

// NewRegistry builds a registry from settings in configuration order.
// Configuration anomalies are reported to sink and never fail the build.
func NewRegistry(settings []Setting, sink DiagnosticSink) *Registry {
	if sink == nil {
		sink = DiscardDiagnostics
	}

	r := &Registry{
		settings: make([]Setting, 0, len(settings)),
		byKey:    make(map[string]int, len(settings)),
	}

	for _, s := range settings {
		key := s.Key()
		if key == "" {
			sink.Emit(Warning(KindInvalidSetting, "", "setting with an empty name ignored"))
			continue
		}
		if idx, exists := r.byKey[key]; exists {
			sink.Emit(Warning(KindDuplicateSetting, s.Name,
				fmt.Sprintf("duplicate setting %q ignored, keeping first definition %q", s.Name, r.settings[idx].Name)))
			continue
		}
		if !s.HasGroups() {
			sink.Emit(Warning(KindEmptySetting, s.Name,
				fmt.Sprintf("setting %q has no authorized groups and will report zero completions", s.Name)))
		}

		groups := make([]string, len(s.AuthorizedGroups))
		copy(groups, s.AuthorizedGroups)

		r.byKey[key] = len(r.settings)
		r.settings = append(r.settings, Setting{Name: s.Name, AuthorizedGroups: groups})
	}

	return r
}

// Settings returns the settings in registry order.
func (r *Registry) Settings() []Setting {
	out := make([]Setting, len(r.settings))
	copy(out, r.settings)
	return out
}

// Lookup finds a setting by name, case-insensitively.
func (r *Registry) Lookup(name string) (Setting, bool) {
	idx, ok := r.byKey[SettingKey(name)]
	if !ok {
		return Setting{}, false
	}
	return r.settings[idx], true
}

// Len returns the number of distinct settings.
func (r *Registry) Len() int {
	return len(r.settings)
}

// GroupNames returns every distinct group referenced by any setting, in
// first-reference order. The first spelling of a group is kept.
func (r *Registry) GroupNames() []string {
	seen := make(map[string]struct{})
	var groups []string
	for _, s := range r.settings {
		for _, g := range s.AuthorizedGroups {
			key := GroupKey(g)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			groups = append(groups, g)
		}
	}
	return groups
}
