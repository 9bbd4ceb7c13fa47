// File: internal/filters/rule.go
package filters

import "strings"

// DomainOption is one entry of a rule's domain option. Include is false for
// "~domain" exclusions.
type DomainOption struct {
	Domain  string
	Include bool
}

// Rule is an element hiding rule: a CSS selector plus the domains it is
// scoped to.
type Rule struct {
	Selector string
	Domains  []DomainOption
}

// Applies reports whether the rule should be evaluated on domain.
//
// Exclusions are ignored entirely: the notices exist on those sites, the list
// maintainers only excepted them because hiding broke the page. A rule left
// with no inclusions is unconstrained. Inclusions match by substring, not by
// label suffix, so "okie.com" also applies to "cookie.com".
func (r Rule) Applies(domain string) bool {
	matched, constrained := false, false
	for _, opt := range r.Domains {
		if !opt.Include {
			continue
		}
		constrained = true
		if strings.Contains(domain, opt.Domain) {
			matched = true
			break
		}
	}
	return !constrained || matched
}
