package elevation

import (
	"strings"

	"github.com/securelens/securelens/internal/domain/errors"
)

// Setting is a named authorization rule binding an application to the
// directory groups allowed to elevate for it.
type Setting struct {
	Name             string   `json:"name"`
	AuthorizedGroups []string `json:"authorized_groups"`
}

// NewSetting creates a Setting, trimming the name and dropping blank group
// entries. The group order is preserved.
func NewSetting(name string, groups []string) (*Setting, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError("EMPTY_SETTING_NAME", "setting name cannot be empty")
	}

	cleaned := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		cleaned = append(cleaned, g)
	}

	return &Setting{
		Name:             name,
		AuthorizedGroups: cleaned,
	}, nil
}

// Key is the case-insensitive identity of the setting.
func (s Setting) Key() string {
	return SettingKey(s.Name)
}

// HasGroups reports whether the setting authorizes at least one group.
func (s Setting) HasGroups() bool {
	return len(s.AuthorizedGroups) > 0
}

// SettingKey normalizes a setting name for lookups.
func SettingKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GroupKey normalizes a group name so that the same directory group spelled
// differently is resolved once.
func GroupKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
