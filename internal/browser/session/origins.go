// internal/browser/session/origins.go
package session

import (
	"net"
	"net/url"
	"sort"

	"golang.org/x/net/publicsuffix"
)

// FirstLevelDomain returns the registrable domain of rawURL, e.g.
// "example.co.uk" for "https://www.example.co.uk/path". IP hosts and URLs
// without a host have none.
func FirstLevelDomain(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := u.Hostname()
	if host == "" || net.ParseIP(host) != nil {
		return "", false
	}
	fld, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", false
	}
	return fld, true
}

// StorageOrigins maps the given URLs to the dot-prefixed first level domains
// passed to Storage.clearDataForOrigin. The result is sorted and has no
// duplicates.
func StorageOrigins(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	origins := make([]string, 0, len(urls))
	for _, u := range urls {
		fld, ok := FirstLevelDomain(u)
		if !ok {
			continue
		}
		origin := "." + fld
		if _, dup := seen[origin]; dup {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins
}
