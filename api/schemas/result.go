// File: api/schemas/result.go
package schemas

import (
	"net/url"
	"sync"

	"github.com/chromedp/cdproto/network"
	"golang.org/x/net/publicsuffix"
)

// Redirect is a same-document navigation recorded before the load event.
type Redirect struct {
	URL       string `json:"url"`
	RootFrame bool   `json:"root_frame"`
}

// Request is a network request observed during the scan.
type Request struct {
	URL string `json:"url"`
}

// Response is a network response observed during the scan.
type Response struct {
	URL      string                 `json:"url"`
	Status   int64                  `json:"status"`
	MimeType string                 `json:"mime_type"`
	Headers  map[string]interface{} `json:"headers"`
}

// ScanResult accumulates everything one scan attempt observes. It is written
// concurrently by the CDP listener and the scan goroutine while the session is
// open, and must be treated as read-only once the session returns.
type ScanResult struct {
	mu sync.Mutex

	ScanID   string `json:"scan_id,omitempty"`
	Rank     int    `json:"rank"`
	Domain   string `json:"domain"`
	TLD      string `json:"tld"`
	Protocol string `json:"protocol"`
	URL      string `json:"url"`

	Redirects []Redirect `json:"redirects"`

	Failed          bool     `json:"failed"`
	FailedReason    string   `json:"failed_reason,omitempty"`
	FailedException string   `json:"failed_exception,omitempty"`
	FailedTraceback []string `json:"failed_traceback,omitempty"`

	Warnings []Warning `json:"warnings"`

	StoppedWaiting       bool   `json:"stopped_waiting"`
	StoppedWaitingReason string `json:"stopped_waiting_reason,omitempty"`

	Requests  []Request                    `json:"requests"`
	Responses []Response                   `json:"responses"`
	Cookies   map[string][]*network.Cookie `json:"cookies"`

	HTML              string                       `json:"html"`
	Language          string                       `json:"language"`
	IsCMPDefined      bool                         `json:"is_cmp_defined"`
	CookieNoticeCount map[string]int               `json:"cookie_notice_count"`
	CookieNotices     map[string][]NoticeCandidate `json:"cookie_notices"`

	// Screenshots are persisted as separate PNG files.
	Screenshots map[string][]byte `json:"-"`

	// techniques lists the CookieNotices keys in the order they were recorded.
	techniques []string
}

// NewScanResult creates the accumulator for one attempt at target.
func NewScanResult(t Target) *ScanResult {
	return &ScanResult{
		Rank:              t.Rank,
		Domain:            t.Domain,
		TLD:               topLevelDomain(t.URL()),
		Protocol:          t.Protocol,
		URL:               t.URL(),
		Redirects:         make([]Redirect, 0),
		Warnings:          make([]Warning, 0),
		Requests:          make([]Request, 0),
		Responses:         make([]Response, 0),
		Cookies:           make(map[string][]*network.Cookie),
		CookieNoticeCount: make(map[string]int),
		CookieNotices:     make(map[string][]NoticeCandidate),
		Screenshots:       make(map[string][]byte),
	}
}

func topLevelDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	suffix, _ := publicsuffix.PublicSuffix(u.Hostname())
	return suffix
}

// SetFailed marks the scan failed. The first call wins; later calls return
// false and change nothing, since the session is already being aborted.
func (r *ScanResult) SetFailed(reason, exception string, traceback []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Failed {
		return false
	}
	r.Failed = true
	r.FailedReason = reason
	r.FailedException = exception
	r.FailedTraceback = traceback
	return true
}

// Failure returns the failure state under the lock.
func (r *ScanResult) Failure() (failed bool, reason, exception string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Failed, r.FailedReason, r.FailedException
}

func (r *ScanResult) AddWarning(w Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, w)
}

func (r *ScanResult) SetStoppedWaiting(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StoppedWaiting = true
	r.StoppedWaitingReason = reason
}

func (r *ScanResult) AddRequest(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requests = append(r.Requests, Request{URL: url})
}

func (r *ScanResult) AddResponse(resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses = append(r.Responses, resp)
}

func (r *ScanResult) AddRedirect(url string, rootFrame bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Redirects = append(r.Redirects, Redirect{URL: url, RootFrame: rootFrame})
}

func (r *ScanResult) SetCookies(key string, cookies []*network.Cookie) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cookies[key] = cookies
}

func (r *ScanResult) AddScreenshot(name string, png []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Screenshots[name] = png
}

func (r *ScanResult) SetHTML(html string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HTML = html
}

func (r *ScanResult) SetLanguage(lang string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Language = lang
}

func (r *ScanResult) SetCMPDefined(defined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IsCMPDefined = defined
}

// AddCookieNotices records the candidates of one technique and their count.
func (r *ScanResult) AddCookieNotices(technique string, notices []NoticeCandidate) {
	if notices == nil {
		notices = make([]NoticeCandidate, 0)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.CookieNotices[technique]; !ok {
		r.techniques = append(r.techniques, technique)
	}
	r.CookieNotices[technique] = notices
	r.CookieNoticeCount[technique] = len(notices)
}

// Techniques returns the recorded techniques in detection order.
func (r *ScanResult) Techniques() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.techniques...)
}

// Notice returns the candidate at index for technique, if present.
func (r *ScanResult) Notice(technique string, index int) (NoticeCandidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	notices := r.CookieNotices[technique]
	if index < 0 || index >= len(notices) {
		return NoticeCandidate{}, false
	}
	return notices[index], true
}
