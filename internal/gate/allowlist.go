package gate

import "strings"

// Allowlist is the set of alarm types permitted to page. Membership is
// case-insensitive: entries and candidates are both upper-cased, matching
// the normalization applied to AlarmRecord types.
type Allowlist map[string]struct{}

// NewAllowlist builds an Allowlist from raw type names, trimming whitespace
// and dropping empty entries (a trailing comma in the configured list must
// not allow the empty type).
func NewAllowlist(types []string) Allowlist {
	a := make(Allowlist, len(types))
	for _, t := range types {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		a[t] = struct{}{}
	}
	return a
}

// Contains reports whether the alarm type is allowlisted.
func (a Allowlist) Contains(alarmType string) bool {
	_, ok := a[strings.ToUpper(strings.TrimSpace(alarmType))]
	return ok
}
