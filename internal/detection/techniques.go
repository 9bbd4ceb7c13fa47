// internal/detection/techniques.go
package detection

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/noticescan/internal/browser/bridge"
	"github.com/xkilldash9x/noticescan/internal/browser/scripts"
)

// AnchorKeyword is the text every heuristic candidate contains.
const AnchorKeyword = "cookie"

// anchorQuery selects the elements owning a text node that contains the
// keyword in any letter case. Elements with several text nodes are found
// through whichever of them matches.
var anchorQuery = fmt.Sprintf(
	"//body//*/text()[contains(translate(., 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), '%s')]/parent::*",
	AnchorKeyword)

func uniqueNodes(nodes []cdp.NodeID) []cdp.NodeID {
	seen := make(map[cdp.NodeID]struct{}, len(nodes))
	out := make([]cdp.NodeID, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// ruleMatches evaluates the selectors in-page and returns the matching
// elements without duplicates.
func (r *run) ruleMatches(ctx context.Context, selectors []string) ([]cdp.NodeID, error) {
	expr, err := scripts.RuleMatches(selectors)
	if err != nil {
		return nil, err
	}
	res, err := r.bridge.Evaluate(ctx, expr)
	if err != nil {
		return nil, err
	}
	nodes, err := r.bridge.Nodes(ctx, res)
	if err != nil {
		return nil, err
	}
	return uniqueNodes(nodes), nil
}

// textAnchors finds the visible elements mentioning the keyword and lifts
// each to its nearest non-inline ancestor. Scripts are paused while the
// search runs so the result set cannot change underneath it.
func (r *run) textAnchors(ctx context.Context) ([]cdp.NodeID, error) {
	if err := r.page.SetScriptExecutionDisabled(ctx, true); err != nil {
		return nil, err
	}
	nodes, err := r.page.Search(ctx, anchorQuery)
	if err == nil {
		nodes = r.dropScriptAndStyle(ctx, nodes)
	}
	if resumeErr := r.page.SetScriptExecutionDisabled(ctx, false); resumeErr != nil && err == nil {
		err = resumeErr
	}
	if err != nil {
		return nil, err
	}

	visible := r.oracle.FilterVisible(ctx, nodes)
	blocks := make([]cdp.NodeID, 0, len(visible))
	for _, n := range visible {
		if block, ok := r.blockParent(ctx, n); ok {
			blocks = append(blocks, block)
		}
	}
	return uniqueNodes(blocks), nil
}

func (r *run) dropScriptAndStyle(ctx context.Context, nodes []cdp.NodeID) []cdp.NodeID {
	out := make([]cdp.NodeID, 0, len(nodes))
	for _, n := range nodes {
		name, err := r.bridge.NodeName(ctx, n)
		if err != nil {
			r.bridge.Warn("detection.textAnchors", err)
			continue
		}
		if name == "script" || name == "style" {
			continue
		}
		out = append(out, n)
	}
	return out
}

// callForElement runs declaration on node and materializes the element it
// returns. ok is false when the script returned anything but an element.
func (r *run) callForElement(ctx context.Context, method string, node cdp.NodeID, declaration string) (cdp.NodeID, bool) {
	res, err := r.bridge.CallOn(ctx, node, declaration)
	if err != nil {
		r.bridge.Warn(method, err)
		return 0, false
	}
	if !bridge.IsElement(res) {
		return 0, false
	}
	n, err := r.bridge.NodeFor(ctx, res)
	if err != nil {
		r.bridge.Warn(method, err)
		return 0, false
	}
	return n, true
}

func (r *run) blockParent(ctx context.Context, node cdp.NodeID) (cdp.NodeID, bool) {
	return r.callForElement(ctx, "detection.blockParent", node, scripts.BlockParent)
}

// fixedParent returns the closest position:fixed ancestor of node. A walk
// that ends at the html element of a child frame yields the iframe element
// hosting that frame; at the top-level html element there is none.
func (r *run) fixedParent(ctx context.Context, node cdp.NodeID) (cdp.NodeID, bool) {
	parent, ok := r.callForElement(ctx, "detection.fixedParent", node, scripts.FixedParent)
	if !ok {
		return 0, false
	}
	desc, err := r.page.DescribeNode(ctx, parent)
	if err != nil {
		r.bridge.Warn("detection.fixedParent", err)
		return 0, false
	}
	if !isHTMLElement(desc) {
		return parent, true
	}
	if desc.FrameID == "" || desc.FrameID == r.rootFrame {
		return 0, false
	}
	owner, err := r.page.FrameOwner(ctx, desc.FrameID)
	if err != nil {
		r.bridge.Warn("detection.fixedParent", err)
		return 0, false
	}
	return owner, true
}

func isHTMLElement(n *cdp.Node) bool {
	return n != nil && (n.LocalName == "html" || n.NodeName == "HTML" || n.NodeName == "html")
}

func (r *run) fixedParents(ctx context.Context, anchors []cdp.NodeID) []cdp.NodeID {
	out := make([]cdp.NodeID, 0, len(anchors))
	for _, a := range anchors {
		if p, ok := r.fixedParent(ctx, a); ok {
			out = append(out, p)
		}
	}
	return uniqueNodes(out)
}

// fullWidthParents lifts each anchor to the largest ancestor that neither
// grows much taller nor moves, and keeps it if it spans the viewport width.
func (r *run) fullWidthParents(ctx context.Context, anchors []cdp.NodeID) []cdp.NodeID {
	out := make([]cdp.NodeID, 0, len(anchors))
	for _, a := range anchors {
		if p, ok := r.callForElement(ctx, "detection.fullWidthParent", a, scripts.FullWidthParent); ok {
			out = append(out, p)
		}
	}
	return uniqueNodes(out)
}
