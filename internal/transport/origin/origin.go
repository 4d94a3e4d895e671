// Package origin matches request origins against the configured allow list.
package origin

import (
	"path"
	"strings"
)

// Matcher accepts exact origins and shell-style patterns such as
// "https://*.example.com". An empty list or a bare "*" allows everything.
type Matcher struct {
	any      bool
	exact    map[string]struct{}
	patterns []string
}

func NewMatcher(allowed []string) *Matcher {
	m := &Matcher{exact: make(map[string]struct{})}
	for _, a := range allowed {
		a = strings.TrimRight(strings.TrimSpace(a), "/")
		switch {
		case a == "":
		case a == "*":
			m.any = true
		case strings.ContainsAny(a, "*?["):
			m.patterns = append(m.patterns, a)
		default:
			m.exact[a] = struct{}{}
		}
	}
	if len(m.exact) == 0 && len(m.patterns) == 0 {
		m.any = true
	}
	return m
}

func (m *Matcher) Allow(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, p := range m.patterns {
		if ok, err := path.Match(p, origin); err == nil && ok {
			return true
		}
	}
	return false
}

// AllowAll reports whether every origin passes.
func (m *Matcher) AllowAll() bool { return m.any }
