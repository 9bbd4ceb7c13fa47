// File: internal/browser/oracle/visibility.go
package oracle

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/internal/browser/bridge"
	"github.com/xkilldash9x/noticescan/internal/browser/scripts"
)

// Visibility is the outcome of a visibility check. Node is the element that
// is actually rendered, which is either the checked node or the first visible
// descendant standing in for it.
type Visibility struct {
	Visible bool
	Node    cdp.NodeID
}

// Oracle answers rendering questions about nodes of one page.
type Oracle struct {
	bridge *bridge.Bridge
	logger *zap.Logger
}

// New creates an oracle that talks to the page through b.
func New(b *bridge.Bridge, logger *zap.Logger) *Oracle {
	return &Oracle{bridge: b, logger: logger.Named("oracle")}
}

// IsVisible reports whether node, or one of its descendants, is rendered and
// on top at its own center. display:none, opacity below 0.1 and any
// visibility other than visible end the check without a descendant search.
// Protocol failures count as invisible and are recorded as warnings.
func (o *Oracle) IsVisible(ctx context.Context, node cdp.NodeID) Visibility {
	res, err := o.bridge.CallOn(ctx, node, scripts.IsVisible)
	if err != nil {
		o.bridge.Warn("oracle.IsVisible", err)
		return Visibility{}
	}
	if !bridge.IsElement(res) {
		return Visibility{}
	}
	visible, err := o.bridge.NodeFor(ctx, res)
	if err != nil {
		// Rendered, but the substitute could not be materialized.
		o.bridge.Warn("oracle.IsVisible", err)
		return Visibility{Visible: true, Node: node}
	}
	return Visibility{Visible: true, Node: visible}
}

// FilterVisible keeps the nodes that are visible themselves or through a
// descendant, in their original order.
func (o *Oracle) FilterVisible(ctx context.Context, nodes []cdp.NodeID) []cdp.NodeID {
	out := make([]cdp.NodeID, 0, len(nodes))
	for _, n := range nodes {
		if o.IsVisible(ctx, n).Visible {
			out = append(out, n)
		}
	}
	return out
}

// VisibleSubstitutes maps every visible node to the node that is actually
// rendered and drops the invisible ones.
func (o *Oracle) VisibleSubstitutes(ctx context.Context, nodes []cdp.NodeID) []cdp.NodeID {
	out := make([]cdp.NodeID, 0, len(nodes))
	for _, n := range nodes {
		if v := o.IsVisible(ctx, n); v.Visible {
			out = append(out, v.Node)
		}
	}
	return out
}
