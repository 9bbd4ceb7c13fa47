// internal/browser/session/tab.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/overlay"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/internal/browser/bridge"
)

// Highlight colors used for node screenshots.
var (
	highlightContent = &cdp.RGBA{R: 152, G: 196, B: 234, A: 0.5}
	highlightPadding = &cdp.RGBA{R: 184, G: 226, B: 183, A: 0.5}
	highlightMargin  = &cdp.RGBA{R: 253, G: 201, B: 148, A: 0.5}
)

// Tab is one browser target in its own browser context. Every scan attempt
// gets a fresh tab, so node and object handles never outlive the page they
// were issued for.
type Tab struct {
	ctx              context.Context
	cancel           context.CancelFunc
	browserContextID cdp.BrowserContextID
	logger           *zap.Logger

	docMu sync.Mutex
	doc   *cdp.Node
}

var (
	_ Driver        = (*Tab)(nil)
	_ bridge.Remote = (*Tab)(nil)
)

// run executes actions against the tab, bounded by both the tab lifetime and
// ctx.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// enable turns on the event domains chromedp leaves off.
func (t *Tab) enable(ctx context.Context) error {
	return t.run(ctx, network.Enable(), dom.Enable(), overlay.Enable())
}

// -- Driver --

func (t *Tab) Listen(fn func(ev interface{})) {
	chromedp.ListenTarget(t.ctx, fn)
}

func (t *Tab) Navigate(ctx context.Context, url string) (string, error) {
	var errorText string
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, text, _, err := page.Navigate(url).Do(ctx)
		errorText = text
		return err
	}))
	return errorText, err
}

func (t *Tab) StopLoading(ctx context.Context) error {
	return t.run(ctx, page.StopLoading())
}

func (t *Tab) ClearBrowser(ctx context.Context, origins []string) error {
	actions := []chromedp.Action{network.ClearBrowserCache(), network.ClearBrowserCookies()}
	for _, origin := range origins {
		actions = append(actions, storage.ClearDataForOrigin(origin, "all"))
	}
	return t.run(ctx, actions...)
}

func (t *Tab) SetScriptExecutionDisabled(ctx context.Context, disabled bool) error {
	return t.run(ctx, emulation.SetScriptExecutionDisabled(disabled))
}

func (t *Tab) HandleDialog(ctx context.Context, accept bool) error {
	return t.run(ctx, page.HandleJavaScriptDialog(accept))
}

func (t *Tab) DenyPermissions(ctx context.Context, names []string) error {
	actions := make([]chromedp.Action, 0, len(names))
	for _, name := range names {
		p := browser.SetPermission(&browser.PermissionDescriptor{Name: name}, browser.PermissionSettingDenied)
		if t.browserContextID != "" {
			p = p.WithBrowserContextID(t.browserContextID)
		}
		actions = append(actions, p)
	}
	return t.run(ctx, actions...)
}

// Close closes the target and disposes its browser context.
func (t *Tab) Close(context.Context) error {
	err := chromedp.Cancel(t.ctx)
	t.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close tab: %w", err)
	}
	return nil
}

// -- bridge.Remote --

func (t *Tab) ResolveNode(ctx context.Context, node cdp.NodeID) (runtime.RemoteObjectID, error) {
	var obj *runtime.RemoteObject
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) (err error) {
		obj, err = dom.ResolveNode().WithNodeID(node).Do(ctx)
		return err
	}))
	if err != nil {
		return "", err
	}
	if obj == nil || obj.ObjectID == "" {
		return "", fmt.Errorf("node %d has no remote object", node)
	}
	return obj.ObjectID, nil
}

func (t *Tab) RequestNode(ctx context.Context, obj runtime.RemoteObjectID) (cdp.NodeID, error) {
	var node cdp.NodeID
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) (err error) {
		node, err = dom.RequestNode(obj).Do(ctx)
		return err
	}))
	return node, err
}

func (t *Tab) DescribeNode(ctx context.Context, node cdp.NodeID) (*cdp.Node, error) {
	var n *cdp.Node
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) (err error) {
		n, err = dom.DescribeNode().WithNodeID(node).Do(ctx)
		return err
	}))
	return n, err
}

func (t *Tab) GetProperties(ctx context.Context, obj runtime.RemoteObjectID) ([]*runtime.PropertyDescriptor, error) {
	var props []*runtime.PropertyDescriptor
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, _, _, exc, err := runtime.GetProperties(obj).WithOwnProperties(true).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		props = res
		return nil
	}))
	return props, err
}

func (t *Tab) CallFunctionOn(ctx context.Context, declaration string, obj runtime.RemoteObjectID) (*runtime.RemoteObject, error) {
	var res *runtime.RemoteObject
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		r, exc, err := runtime.CallFunctionOn(declaration).
			WithObjectID(obj).
			WithSilent(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		res = r
		return nil
	}))
	return res, err
}

func (t *Tab) Evaluate(ctx context.Context, expression string) (*runtime.RemoteObject, error) {
	var res *runtime.RemoteObject
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		r, exc, err := runtime.Evaluate(expression).WithSilent(true).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		res = r
		return nil
	}))
	return res, err
}

// -- Page inspection --

// Document returns the root node, fetching it once per tab. Fetching the
// document again would invalidate every node handle issued so far.
func (t *Tab) Document(ctx context.Context) (*cdp.Node, error) {
	t.docMu.Lock()
	defer t.docMu.Unlock()
	if t.doc != nil {
		return t.doc, nil
	}
	var root *cdp.Node
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) (err error) {
		root, err = dom.GetDocument().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	t.doc = root
	return root, nil
}

// DocumentHTML returns the outer HTML of the whole document.
func (t *Tab) DocumentHTML(ctx context.Context) (string, error) {
	root, err := t.Document(ctx)
	if err != nil {
		return "", err
	}
	return t.OuterHTML(ctx, root.NodeID)
}

func (t *Tab) OuterHTML(ctx context.Context, node cdp.NodeID) (string, error) {
	var html string
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) (err error) {
		html, err = dom.GetOuterHTML().WithNodeID(node).Do(ctx)
		return err
	}))
	return html, err
}

// Search runs a DOM search (plain text, CSS selector or XPath) and returns
// every matching node.
func (t *Tab) Search(ctx context.Context, query string) ([]cdp.NodeID, error) {
	if _, err := t.Document(ctx); err != nil {
		return nil, err
	}
	var nodes []cdp.NodeID
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		searchID, count, err := dom.PerformSearch(query).Do(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = dom.DiscardSearchResults(searchID).Do(ctx) }()
		if count == 0 {
			return nil
		}
		nodes, err = dom.GetSearchResults(searchID, 0, count).Do(ctx)
		return err
	}))
	return nodes, err
}

// RootFrameID is the ID of the tab's top-level frame.
func (t *Tab) RootFrameID(ctx context.Context) (cdp.FrameID, error) {
	var tree *page.FrameTree
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) (err error) {
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return "", err
	}
	if tree == nil || tree.Frame == nil {
		return "", errors.New("frame tree has no root frame")
	}
	return tree.Frame.ID, nil
}

// FrameOwner returns the iframe element hosting frame.
func (t *Tab) FrameOwner(ctx context.Context, frame cdp.FrameID) (cdp.NodeID, error) {
	var node cdp.NodeID
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		backend, n, err := dom.GetFrameOwner(frame).Do(ctx)
		if err != nil {
			return err
		}
		if n != 0 {
			node = n
			return nil
		}
		// The owner was not pushed to the client yet.
		pushed, err := dom.PushNodesByBackendIDsToFrontend([]cdp.BackendNodeID{backend}).Do(ctx)
		if err != nil {
			return err
		}
		if len(pushed) == 0 {
			return fmt.Errorf("no owner node for frame %s", frame)
		}
		node = pushed[0]
		return nil
	}))
	return node, err
}

// Cookies returns every cookie of the tab's browser context.
func (t *Tab) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) (err error) {
		p := storage.GetCookies()
		if t.browserContextID != "" {
			p = p.WithBrowserContextID(t.browserContextID)
		}
		cookies, err = p.Do(ctx)
		return err
	}))
	if cookies == nil && err == nil {
		cookies = make([]*network.Cookie, 0)
	}
	return cookies, err
}

// Screenshot captures the current layout viewport as PNG.
func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		layout, _, _, cssLayout, _, _, err := page.GetLayoutMetrics().Do(ctx)
		if err != nil {
			return err
		}
		if cssLayout != nil {
			layout = cssLayout
		}
		if layout == nil {
			return errors.New("layout viewport metrics unavailable")
		}
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{
				X:      float64(layout.PageX),
				Y:      float64(layout.PageY),
				Width:  float64(layout.ClientWidth),
				Height: float64(layout.ClientHeight),
				Scale:  1,
			}).
			Do(ctx)
		return err
	}))
	return buf, err
}

// Highlight draws the content, padding and margin overlay over node.
func (t *Tab) Highlight(ctx context.Context, node cdp.NodeID) error {
	cfg := &overlay.HighlightConfig{
		ContentColor: highlightContent,
		PaddingColor: highlightPadding,
		MarginColor:  highlightMargin,
	}
	return t.run(ctx, overlay.HighlightNode(cfg).WithNodeID(node))
}

func (t *Tab) HideHighlight(ctx context.Context) error {
	return t.run(ctx, overlay.HideHighlight())
}
