package elevation

import "strings"

// NormalizeUser maps an account name to the single case convention used for
// authorization checks. Directory group members are SamAccountNames, while
// audit records may carry "DOMAIN\user" or "user@domain" forms, so both
// qualifiers are stripped.
func NormalizeUser(account string) string {
	u := strings.TrimSpace(account)
	if i := strings.LastIndex(u, `\`); i >= 0 {
		u = u[i+1:]
	}
	if i := strings.Index(u, "@"); i > 0 {
		u = u[:i]
	}
	return strings.ToLower(strings.TrimSpace(u))
}
