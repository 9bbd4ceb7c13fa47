// File: internal/filters/list.go
package filters

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// List is a parsed filter list. It is never mutated after loading and is
// shared read-only across all workers.
type List struct {
	Name  string
	Rules []Rule
}

// Load reads the filter list at path. The list is named after the file's base
// name without extension, e.g. "easylist-cookie".
func Load(path string) (*List, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand filter path %q: %w", path, err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to open filter list: %w", err)
	}
	defer f.Close()

	base := filepath.Base(expanded)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	list, err := Parse(name, f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse filter list %s: %w", name, err)
	}
	return list, nil
}

// LoadAll loads every list in paths, in order.
func LoadAll(paths []string) ([]*List, error) {
	lists := make([]*List, 0, len(paths))
	for _, p := range paths {
		l, err := Load(p)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, nil
}

// Parse reads Adblock Plus syntax and keeps only CSS element hiding rules.
// Headers, comments, exception rules, extended selectors, snippets and URL
// pattern rules are skipped.
func Parse(name string, r io.Reader) (*List, error) {
	list := &List{Name: name, Rules: make([]Rule, 0)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if rule, ok := parseLine(scanner.Text()); ok {
			list.Rules = append(list.Rules, rule)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func parseLine(line string) (Rule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") {
		return Rule{}, false
	}
	for _, marker := range []string{"#@#", "#?#", "#$#", "#%#"} {
		if strings.Contains(line, marker) {
			return Rule{}, false
		}
	}
	idx := strings.Index(line, "##")
	if idx < 0 {
		return Rule{}, false
	}
	selector := strings.TrimSpace(line[idx+2:])
	if selector == "" {
		return Rule{}, false
	}
	return Rule{Selector: selector, Domains: parseDomains(line[:idx])}, true
}

func parseDomains(s string) []DomainOption {
	if s == "" {
		return nil
	}
	var opts []DomainOption
	for _, d := range strings.Split(s, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if strings.HasPrefix(d, "~") {
			opts = append(opts, DomainOption{Domain: d[1:], Include: false})
			continue
		}
		opts = append(opts, DomainOption{Domain: d, Include: true})
	}
	return opts
}

// ApplicableRules returns the rules that apply to domain.
func (l *List) ApplicableRules(domain string) []Rule {
	var out []Rule
	for _, r := range l.Rules {
		if r.Applies(domain) {
			out = append(out, r)
		}
	}
	return out
}

// ApplicableSelectors returns the selectors of the rules that apply to domain.
func (l *List) ApplicableSelectors(domain string) []string {
	rules := l.ApplicableRules(domain)
	selectors := make([]string, 0, len(rules))
	for _, r := range rules {
		selectors = append(selectors, r.Selector)
	}
	return selectors
}
