// internal/detection/browser_test.go
package detection

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/noticescan/api/schemas"
)

// These tests run the embedded scripts in headless Chrome against pages served
// by httptest. They skip when no browser is installed.

const visibilityPage = `<!DOCTYPE html>
<html><body style="margin:0">
<div id="hidden" style="display:none"><div id="hidden-child" style="display:block;width:300px;height:100px">cookie</div></div>
<div id="veiled" style="visibility:hidden;position:absolute;left:0;top:0;width:300px;height:100px"><div id="veiled-child" style="visibility:visible;width:300px;height:100px">cookie</div></div>
<div id="faded" style="opacity:0.05;position:absolute;left:400px;top:0;width:300px;height:100px">cookie</div>
<div id="collapsed" style="position:absolute;left:0;top:200px;width:300px;height:0"><div id="collapsed-child" style="width:300px;height:100px">cookie</div></div>
<div id="covered" style="position:absolute;left:400px;top:200px;width:300px;height:100px">cookie</div>
<div id="cover" style="position:absolute;left:400px;top:200px;width:300px;height:100px;background:#fff;z-index:10"></div>
<div id="shown" style="position:absolute;left:800px;top:200px;width:300px;height:100px">cookie</div>
<div id="offscreen" style="position:absolute;left:0;top:5000px;width:300px;height:100px">cookie</div>
</body></html>`

func TestBrowserVisibility(t *testing.T) {
	f := newBrowserFixture(t)
	p := f.open(t, visibilityPage)
	o := p.run(t).oracle
	ctx := p.ctx

	t.Run("HiddenAncestorsEndTheCheck", func(t *testing.T) {
		assert.False(t, o.IsVisible(ctx, p.node(t, "#hidden")).Visible)
		assert.False(t, o.IsVisible(ctx, p.node(t, "#hidden-child")).Visible)
		// A visible child does not make a visibility:hidden parent visible.
		assert.True(t, o.IsVisible(ctx, p.node(t, "#veiled-child")).Visible)
		assert.False(t, o.IsVisible(ctx, p.node(t, "#veiled")).Visible)
		assert.False(t, o.IsVisible(ctx, p.node(t, "#faded")).Visible)
	})

	t.Run("RenderedElement", func(t *testing.T) {
		shown := p.node(t, "#shown")
		v := o.IsVisible(ctx, shown)
		assert.True(t, v.Visible)
		assert.Equal(t, shown, v.Node)
	})

	t.Run("OccludedOrOffscreen", func(t *testing.T) {
		assert.False(t, o.IsVisible(ctx, p.node(t, "#covered")).Visible)
		assert.False(t, o.IsVisible(ctx, p.node(t, "#offscreen")).Visible)
	})

	t.Run("DegenerateBoxFallsBackToChild", func(t *testing.T) {
		v := o.IsVisible(ctx, p.node(t, "#collapsed"))
		assert.True(t, v.Visible)
		assert.Equal(t, p.node(t, "#collapsed-child"), v.Node)
	})

	t.Run("FilterAndSubstitute", func(t *testing.T) {
		nodes := []cdp.NodeID{p.node(t, "#collapsed"), p.node(t, "#hidden"), p.node(t, "#shown")}
		assert.Equal(t, []cdp.NodeID{nodes[0], nodes[2]}, o.FilterVisible(ctx, nodes))
		assert.Equal(t, []cdp.NodeID{p.node(t, "#collapsed-child"), nodes[2]}, o.VisibleSubstitutes(ctx, nodes))
	})

	assert.Empty(t, p.result.Warnings)
}

const modalPage = `<!DOCTYPE html>
<html><body style="margin:0">
<header style="height:60px">Site</header>
<main style="height:1200px">Content</main>
<div id="overlay" style="position:fixed;left:0;top:0;width:100%;height:100%;background:rgba(0,0,0,0.4);z-index:100"></div>
<div id="dialog" style="position:fixed;left:0;bottom:0;width:100%;height:120px;background:#fff;z-index:101">We use cookies.</div>
</body></html>`

const plainPage = `<!DOCTYPE html>
<html><body style="margin:0">
<header style="height:60px">Site</header>
<main style="height:1200px">Content</main>
<div id="dialog" style="position:fixed;left:0;bottom:0;width:100%;height:120px;background:#fff">We use cookies.</div>
</body></html>`

func TestBrowserModality(t *testing.T) {
	f := newBrowserFixture(t)

	dialogGeometry := func(t *testing.T, p *loadedPage) *schemas.Geometry {
		vp, err := p.run(t).oracle.Viewport(p.ctx)
		require.NoError(t, err)
		require.Positive(t, vp.Width)
		require.Positive(t, vp.Height)
		return &schemas.Geometry{X: 0, Y: vp.Height - 120, Width: schemas.FullDimension(), Height: schemas.Px(120)}
	}

	t.Run("OverlayIsModal", func(t *testing.T) {
		p := f.open(t, modalPage)
		o := p.run(t).oracle
		geometry := dialogGeometry(t, p)

		modal, err := o.IsModal(p.ctx, geometry)
		require.NoError(t, err)
		assert.True(t, modal)

		// Without excluding the dialog the bottom points hit the dialog itself.
		modal, err = o.IsModal(p.ctx, nil)
		require.NoError(t, err)
		assert.False(t, modal)
	})

	t.Run("PlainPageIsNotModal", func(t *testing.T) {
		p := f.open(t, plainPage)
		geometry := dialogGeometry(t, p)

		modal, err := p.run(t).oracle.IsModal(p.ctx, geometry)
		require.NoError(t, err)
		assert.False(t, modal)
	})

	t.Run("FullViewportNoticeIsNotModal", func(t *testing.T) {
		p := f.open(t, modalPage)
		full := &schemas.Geometry{Width: schemas.FullDimension(), Height: schemas.FullDimension()}

		modal, err := p.run(t).oracle.IsModal(p.ctx, full)
		require.NoError(t, err)
		assert.False(t, modal, "fewer than two remaining points never establish modality")
	})
}

const fixedParentPage = `<!DOCTYPE html>
<html><body style="margin:0">
<div id="sticky" style="position:fixed;left:0;bottom:0;width:100%;height:100px"><div><span id="sticky-text">cookie</span></div></div>
<div id="static" style="height:100px"><span id="static-text">cookie</span></div>
<iframe id="frame" style="width:600px;height:200px;border:0" srcdoc="<body><p id='frame-text'>cookie</p></body>"></iframe>
</body></html>`

func TestBrowserFixedParent(t *testing.T) {
	f := newBrowserFixture(t)
	p := f.open(t, fixedParentPage)
	r := p.run(t)
	ctx := p.ctx

	t.Run("ClosestFixedAncestor", func(t *testing.T) {
		parent, ok := r.fixedParent(ctx, p.node(t, "#sticky-text"))
		require.True(t, ok)
		assert.Equal(t, p.node(t, "#sticky"), parent)
	})

	t.Run("TopLevelDocumentHasNone", func(t *testing.T) {
		_, ok := r.fixedParent(ctx, p.node(t, "#static-text"))
		assert.False(t, ok)
	})

	t.Run("ChildFrameYieldsIframeElement", func(t *testing.T) {
		parent, ok := r.fixedParent(ctx, p.node(t, "#frame-text"))
		require.True(t, ok)
		assert.Equal(t, p.node(t, "#frame"), parent)
	})

	t.Run("Collected", func(t *testing.T) {
		anchors := []cdp.NodeID{p.node(t, "#sticky-text"), p.node(t, "#static-text"), p.node(t, "#frame-text"), p.node(t, "#sticky-text")}
		assert.Equal(t, []cdp.NodeID{p.node(t, "#sticky"), p.node(t, "#frame")}, r.fixedParents(ctx, anchors))
	})

	assert.Empty(t, p.result.Warnings)
}

const fullWidthPage = `<!DOCTYPE html>
<html><body style="margin:0">
<div id="banner" style="position:fixed;left:0;right:0;bottom:0;padding:8px;border:1px solid #000;background:#fff"><p id="banner-text" style="margin:0">We use cookies.</p></div>
<div id="card" style="width:400px"><p id="card-text">Cookie card</p></div>
<div id="inset" style="position:absolute;left:0;top:300px;width:calc(100% - 10px)">cookie inset</div>
<div id="narrow" style="position:absolute;left:0;top:400px;width:calc(100% - 40px)">cookie narrow</div>
<div id="tall" style="height:1200px"><p id="tall-text" style="margin:0">cookie</p></div>
</body></html>`

func TestBrowserFullWidthParent(t *testing.T) {
	f := newBrowserFixture(t)
	p := f.open(t, fullWidthPage)
	r := p.run(t)
	ctx := p.ctx

	fullWidth := func(t *testing.T, selector string) []cdp.NodeID {
		return r.fullWidthParents(ctx, []cdp.NodeID{p.node(t, selector)})
	}

	t.Run("ClimbsThroughPaddingAndBorder", func(t *testing.T) {
		assert.Equal(t, []cdp.NodeID{p.node(t, "#banner")}, fullWidth(t, "#banner-text"))
	})

	t.Run("StopsBelowMuchTallerParent", func(t *testing.T) {
		assert.Equal(t, []cdp.NodeID{p.node(t, "#tall-text")}, fullWidth(t, "#tall-text"))
	})

	t.Run("ScrollbarAllowance", func(t *testing.T) {
		assert.Equal(t, []cdp.NodeID{p.node(t, "#inset")}, fullWidth(t, "#inset"))
		assert.Empty(t, fullWidth(t, "#narrow"))
	})

	t.Run("NarrowContainerIsDropped", func(t *testing.T) {
		assert.Empty(t, fullWidth(t, "#card-text"))
	})

	assert.Empty(t, p.result.Warnings)
}

const clickablesPage = `<!DOCTYPE html>
<html><body>
<div id="box">
<a id="more" href="#policy">Learn more</a>
<button id="accept">Accept <span>all</span></button>
<div id="outer" role="button"><button id="inner">Reject</button></div>
<a id="wrap" href="#terms"><span role="link">Terms</span></a>
<input id="save" type="submit" value="Save">
<input type="text" value="ignored">
</div>
</body></html>`

func TestBrowserClickables(t *testing.T) {
	f := newBrowserFixture(t)
	p := f.open(t, clickablesPage)
	r := p.run(t)

	clickables := r.clickables(p.ctx, p.node(t, "#box"))
	require.Len(t, clickables, 5, "nested interactive elements are not listed")

	want := []struct {
		selector string
		tag      string
		role     string
	}{
		{"#more", "a", schemas.RoleLink},
		{"#accept", "button", schemas.RoleButton},
		{"#outer", "div", schemas.RoleButton},
		{"#wrap", "a", schemas.RoleLink},
		{"#save", "input", schemas.RoleButton},
	}
	for i, w := range want {
		c := clickables[i]
		assert.Equal(t, p.node(t, w.selector), c.NodeID, w.selector)
		assert.Equal(t, w.tag, c.TagKind, w.selector)
		assert.Equal(t, w.role, c.Role, w.selector)
		assert.True(t, c.IsVisible, w.selector)
	}
	require.NotNil(t, clickables[4].Value)
	assert.Equal(t, "Save", *clickables[4].Value)
	assert.Nil(t, clickables[0].Value)
	assert.Equal(t, "Accept all", clickables[1].Text)
	assert.Empty(t, p.result.Warnings)
}

const consentBannerPage = `<!DOCTYPE html>
<html><head><title>Shop</title><script>window.__cmp = function() {};</script></head>
<body style="margin:0">
<header style="height:60px">Welcome to the shop</header>
<main style="height:1200px">Products</main>
<div class="notice-bar" aria-live="polite">Shipping is free today</div>
<div id="banner" class="cookie-banner notice-bar" data-role="consent" aria-live="polite" style="position:fixed;left:0;right:0;bottom:0;height:80px;background:#fff;z-index:10">This site uses cookies. <a href="#policy">Learn more</a> <button>Accept</button> <span role="button"><button>Reject</button></span></div>
</body></html>`

func TestBrowserPipelineRun(t *testing.T) {
	f := newBrowserFixture(t)
	p := f.open(t, consentBannerPage)
	result := p.result
	pipeline := NewPipeline(testLists(t), fixedLanguage("en"), p.logger)

	ctx, cancel := context.WithTimeout(p.ctx, pageLoadTimeout)
	defer cancel()
	require.NoError(t, pipeline.Run(ctx, p.tab, result, Options{}))

	assert.Contains(t, result.HTML, `data-role="consent"`)
	assert.Equal(t, "en", result.Language)
	assert.True(t, result.IsCMPDefined)
	assert.Empty(t, result.Warnings)

	banner := p.node(t, "#banner")
	require.Len(t, result.CookieNotices["test-list"], 1)
	rule := result.CookieNotices["test-list"][0]
	assert.Equal(t, banner, rule.NodeID)
	assert.True(t, rule.HasID)
	assert.True(t, rule.HasClass)
	require.NotNil(t, rule.ID)
	assert.Equal(t, "banner", *rule.ID)
	assert.Equal(t, []string{"cookie-banner", "notice-bar"}, rule.Classes)
	// notice-bar alone and aria-live alone also match the other bar.
	assert.Equal(t, []string{"cookie-banner", "cookie-banner notice-bar"}, rule.UniqueClassCombinations)
	assert.Equal(t, []string{"data-role", "data-role aria-live"}, rule.UniqueAttributeCombinations)
	assert.Equal(t, schemas.FullDimension(), rule.Width)
	assert.Equal(t, schemas.Px(80), rule.Height)
	assert.Zero(t, rule.X)
	assert.False(t, rule.IsPageModal)

	require.Len(t, rule.Clickables, 3)
	assert.Equal(t, []string{schemas.RoleLink, schemas.RoleButton, schemas.RoleButton},
		[]string{rule.Clickables[0].Role, rule.Clickables[1].Role, rule.Clickables[2].Role})
	assert.Equal(t, "span", rule.Clickables[2].TagKind)

	// Both heuristics reach the banner; the fixed candidate absorbs the
	// identical full-width one.
	assert.Equal(t, 1, result.CookieNoticeCount[schemas.TechniqueFixedParent])
	assert.Equal(t, 0, result.CookieNoticeCount[schemas.TechniqueFullWidthParent])
	fixed := result.CookieNotices[schemas.TechniqueFixedParent][0]
	assert.Equal(t, banner, fixed.NodeID)
	assert.Equal(t, []string{schemas.TechniqueFullWidthParent, schemas.TechniqueFixedParent}, fixed.Techniques)
}
