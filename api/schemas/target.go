// File: api/schemas/target.go
package schemas

import "fmt"

const (
	ProtocolHTTPS = "https"
	ProtocolHTTP  = "http"
)

// Target is a single ranked domain to scan. It is immutable except through the
// protocol and subdomain setters, which only the retry sequence uses.
type Target struct {
	Rank      int    `json:"rank"`
	Domain    string `json:"domain"`
	Protocol  string `json:"protocol"`
	Subdomain string `json:"subdomain,omitempty"`
}

// NewTarget returns a target for domain using the https protocol.
func NewTarget(rank int, domain string) Target {
	return Target{Rank: rank, Domain: domain, Protocol: ProtocolHTTPS}
}

// URL derives the absolute URL the browser is pointed at.
func (t Target) URL() string {
	if t.Subdomain != "" {
		return fmt.Sprintf("%s://%s.%s", t.Protocol, t.Subdomain, t.Domain)
	}
	return fmt.Sprintf("%s://%s", t.Protocol, t.Domain)
}

// Host is the URL host without the scheme.
func (t Target) Host() string {
	if t.Subdomain != "" {
		return t.Subdomain + "." + t.Domain
	}
	return t.Domain
}

func (t *Target) SetProtocol(protocol string) { t.Protocol = protocol }

func (t *Target) SetSubdomain(subdomain string) { t.Subdomain = subdomain }

func (t *Target) RemoveSubdomain() { t.Subdomain = "" }

// BaseName is the stable artifact prefix "{rank}-{domain}".
func (t Target) BaseName() string {
	return fmt.Sprintf("%d-%s", t.Rank, t.Domain)
}
