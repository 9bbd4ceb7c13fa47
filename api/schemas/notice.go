// File: api/schemas/notice.go
package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// Detection technique names. Rule-based techniques are named after their
// filter list instead.
const (
	TechniqueFixedParent     = "fixed_parent"
	TechniqueFullWidthParent = "full_width_parent"
)

// Cookie snapshot purposes.
const (
	CookiesAll         = "all"
	CookiesBeforeClick = "before_click"
	CookiesAfterClick  = "after_click"
)

const fullDimension = "full"

// Dimension is a pixel extent that may instead be the literal "full", meaning
// the element spans at least the whole viewport along that axis.
type Dimension struct {
	Value float64
	Full  bool
}

// Px returns a numeric dimension.
func Px(v float64) Dimension { return Dimension{Value: v} }

// FullDimension returns a dimension spanning the viewport.
func FullDimension() Dimension { return Dimension{Full: true} }

// Resolve returns the numeric extent, substituting viewport for "full".
func (d Dimension) Resolve(viewport float64) float64 {
	if d.Full {
		return viewport
	}
	return d.Value
}

func (d Dimension) String() string {
	if d.Full {
		return fullDimension
	}
	return strconv.FormatFloat(d.Value, 'f', -1, 64)
}

func (d Dimension) MarshalJSON() ([]byte, error) {
	if d.Full {
		return []byte(`"full"`), nil
	}
	return json.Marshal(d.Value)
}

func (d *Dimension) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*d = Dimension{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != fullDimension {
			return fmt.Errorf("invalid dimension %q", s)
		}
		*d = FullDimension()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid dimension: %w", err)
	}
	*d = Px(v)
	return nil
}

// Geometry is the top-left position and extent of an element in viewport
// coordinates.
type Geometry struct {
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	Width  Dimension `json:"width"`
	Height Dimension `json:"height"`
}

// Contains reports whether the point lies inside the box, edges included.
// "full" extents resolve against the given viewport.
func (g Geometry) Contains(x, y, viewportWidth, viewportHeight float64) bool {
	w := g.Width.Resolve(viewportWidth)
	h := g.Height.Resolve(viewportHeight)
	return x >= g.X && x <= g.X+w && y >= g.Y && y <= g.Y+h
}

// NoticeCandidate is one element suspected to be a cookie notice.
type NoticeCandidate struct {
	NodeID                      cdp.NodeID  `json:"node_id"`
	HTML                        string      `json:"html"`
	HasID                       bool        `json:"has_id"`
	HasClass                    bool        `json:"has_class"`
	UniqueClassCombinations     []string    `json:"unique_class_combinations"`
	UniqueAttributeCombinations []string    `json:"unique_attribute_combinations"`
	ID                          *string     `json:"id"`
	Classes                     []string    `json:"class"`
	Text                        string      `json:"text"`
	FontSize                    string      `json:"fontsize"`
	Width                       Dimension   `json:"width"`
	Height                      Dimension   `json:"height"`
	X                           float64     `json:"x"`
	Y                           float64     `json:"y"`
	Clickables                  []Clickable `json:"clickables"`
	IsPageModal                 bool        `json:"is_page_modal"`
	Techniques                  []string    `json:"techniques"`
}

// Geometry returns the candidate's last known bounding box.
func (n NoticeCandidate) Geometry() Geometry {
	return Geometry{X: n.X, Y: n.Y, Width: n.Width, Height: n.Height}
}

// HasTechnique reports whether technique found this candidate.
func (n NoticeCandidate) HasTechnique(technique string) bool {
	for _, t := range n.Techniques {
		if t == technique {
			return true
		}
	}
	return false
}

// Clickable role values.
const (
	RoleLink   = "link"
	RoleButton = "button"
)

// Clickable is an outermost interactive descendant of a notice.
type Clickable struct {
	NodeID      cdp.NodeID   `json:"node_id"`
	HTML        string       `json:"html"`
	TagKind     string       `json:"node"`
	Role        string       `json:"type"`
	Text        string       `json:"text"`
	Value       *string      `json:"value"`
	FontSize    string       `json:"fontsize"`
	Width       Dimension    `json:"width"`
	Height      Dimension    `json:"height"`
	X           float64      `json:"x"`
	Y           float64      `json:"y"`
	IsVisible   bool         `json:"is_visible"`
	ClickResult *ClickResult `json:"click_result,omitempty"`
}

// ClickInstruction addresses one clickable of one detected notice.
type ClickInstruction struct {
	Technique      string `json:"detection_technique"`
	NoticeIndex    int    `json:"cookie_notice_index"`
	ClickableIndex int    `json:"clickable_index"`
}

// NewPage is a navigation or window observed after a click.
type NewPage struct {
	URL       string `json:"url"`
	RootFrame bool   `json:"root_frame"`
	NewWindow bool   `json:"new_window"`
}

// ClickResult records the page state around one executed click. Pages are
// appended from the event listener goroutine, so mutation goes through the
// methods.
type ClickResult struct {
	mu sync.Mutex

	Cookies                       map[string][]*network.Cookie `json:"cookies"`
	NewPages                      []NewPage                    `json:"new_pages"`
	CookieNoticeVisibleAfterClick *bool                        `json:"cookie_notice_visible_after_click"`
	IsPageModal                   *bool                        `json:"is_page_modal"`
}

// NewClickResult returns an empty click result.
func NewClickResult() *ClickResult {
	return &ClickResult{
		Cookies:  make(map[string][]*network.Cookie),
		NewPages: make([]NewPage, 0),
	}
}

func (c *ClickResult) SetCookies(key string, cookies []*network.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cookies[key] = cookies
}

// AddNewPage records a page unless an identical entry already exists.
func (c *ClickResult) AddNewPage(p NewPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.NewPages {
		if existing == p {
			return
		}
	}
	c.NewPages = append(c.NewPages, p)
}

func (c *ClickResult) HasNewPages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.NewPages) > 0
}

func (c *ClickResult) SetNoticeVisibleAfterClick(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CookieNoticeVisibleAfterClick = &visible
}

func (c *ClickResult) SetIsPageModal(modal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.IsPageModal = &modal
}
