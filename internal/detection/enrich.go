// internal/detection/enrich.go
package detection

import (
	"context"

	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/browser/scripts"
)

func (r *run) enrichAll(ctx context.Context, nodes []cdp.NodeID, technique string) []schemas.NoticeCandidate {
	notices := make([]schemas.NoticeCandidate, 0, len(nodes))
	for _, n := range nodes {
		notices = append(notices, r.enrich(ctx, n, technique))
	}
	return notices
}

// enrich collects the properties, clickables and modality of a candidate. A
// candidate whose properties cannot be read is kept empty, tagged only with
// its technique.
func (r *run) enrich(ctx context.Context, node cdp.NodeID, technique string) schemas.NoticeCandidate {
	empty := schemas.NoticeCandidate{
		Clickables: make([]schemas.Clickable, 0),
		Techniques: []string{technique},
	}
	clickables := r.clickables(ctx, node)

	res, err := r.bridge.CallOn(ctx, node, scripts.NoticeProperties)
	if err != nil {
		r.bridge.Warn("detection.noticeProperties", err)
		return empty
	}
	var notice schemas.NoticeCandidate
	if err := r.bridge.Decode(ctx, res, &notice); err != nil {
		r.bridge.Warn("detection.noticeProperties", err)
		return empty
	}
	notice.NodeID = node
	notice.Clickables = clickables
	notice.Techniques = []string{technique}
	geometry := notice.Geometry()
	notice.IsPageModal = r.oracle.IsModalOrWarn(ctx, &geometry)
	return notice
}

// clickables returns the outermost interactive descendants of node.
func (r *run) clickables(ctx context.Context, node cdp.NodeID) []schemas.Clickable {
	out := make([]schemas.Clickable, 0)
	res, err := r.bridge.CallOn(ctx, node, scripts.Clickables)
	if err != nil {
		r.bridge.Warn("detection.clickables", err)
		return out
	}
	nodes, err := r.bridge.Nodes(ctx, res)
	if err != nil {
		r.bridge.Warn("detection.clickables", err)
		return out
	}
	for _, n := range nodes {
		// An unreadable clickable cannot be matched again in a click visit.
		if c, ok := r.clickable(ctx, n); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *run) clickable(ctx context.Context, node cdp.NodeID) (schemas.Clickable, bool) {
	res, err := r.bridge.CallOn(ctx, node, scripts.ClickableProperties)
	if err != nil {
		r.bridge.Warn("detection.clickableProperties", err)
		return schemas.Clickable{}, false
	}
	var c schemas.Clickable
	if err := r.bridge.Decode(ctx, res, &c); err != nil {
		r.bridge.Warn("detection.clickableProperties", err)
		return schemas.Clickable{}, false
	}
	c.NodeID = node
	c.IsVisible = r.oracle.IsVisible(ctx, node).Visible
	return c, true
}
