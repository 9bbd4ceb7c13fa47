// internal/detection/pipeline.go
package detection

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/browser/bridge"
	"github.com/xkilldash9x/noticescan/internal/browser/oracle"
	"github.com/xkilldash9x/noticescan/internal/browser/scripts"
	"github.com/xkilldash9x/noticescan/internal/filters"
)

// Page is the loaded document the pipeline inspects. session.Tab implements
// it.
type Page interface {
	bridge.Remote
	DocumentHTML(ctx context.Context) (string, error)
	Search(ctx context.Context, query string) ([]cdp.NodeID, error)
	RootFrameID(ctx context.Context) (cdp.FrameID, error)
	FrameOwner(ctx context.Context, frame cdp.FrameID) (cdp.NodeID, error)
	SetScriptExecutionDisabled(ctx context.Context, disabled bool) error
	Screenshot(ctx context.Context) ([]byte, error)
	Highlight(ctx context.Context, node cdp.NodeID) error
	HideHighlight(ctx context.Context) error
}

// Pipeline runs every detection technique against a settled page. It holds
// only immutable state and is shared by all workers.
type Pipeline struct {
	lists    []*filters.List
	language LanguageDetector
	logger   *zap.Logger
}

// NewPipeline creates a pipeline using lists for rule-based detection.
func NewPipeline(lists []*filters.List, language LanguageDetector, logger *zap.Logger) *Pipeline {
	return &Pipeline{lists: lists, language: language, logger: logger.Named("detection")}
}

// Options selects the optional parts of a run.
type Options struct {
	Screenshots bool
}

// run is the state of one pipeline run against one page.
type run struct {
	page      Page
	bridge    *bridge.Bridge
	oracle    *oracle.Oracle
	result    *schemas.ScanResult
	domain    string
	rootFrame cdp.FrameID
	logger    *zap.Logger
}

func newRun(page Page, result *schemas.ScanResult, logger *zap.Logger) *run {
	b := bridge.New(page, result, logger)
	return &run{
		page:   page,
		bridge: b,
		oracle: oracle.New(b, logger),
		result: result,
		domain: result.Domain,
		logger: logger.With(zap.String("domain", result.Domain)),
	}
}

// Run snapshots the document, detects its language and records the cookie
// notice candidates of every technique on result. Protocol failures inside a
// technique degrade to warnings; an error is returned only when the page
// cannot be inspected at all.
func (p *Pipeline) Run(ctx context.Context, page Page, result *schemas.ScanResult, opts Options) error {
	r := newRun(page, result, p.logger)
	b := r.bridge

	html, err := page.DocumentHTML(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot document: %w", err)
	}
	result.SetHTML(html)
	p.detectLanguage(ctx, r)

	cmp, err := b.Evaluate(ctx, scripts.CMPDefined)
	if err != nil {
		return fmt.Errorf("failed to check for consent management API: %w", err)
	}
	result.SetCMPDefined(bridge.Bool(cmp))

	ruleNodes := make([][]cdp.NodeID, len(p.lists))
	for i, list := range p.lists {
		nodes, err := r.ruleMatches(ctx, list.ApplicableSelectors(r.domain))
		if err != nil {
			return fmt.Errorf("failed to match rules of %s: %w", list.Name, err)
		}
		nodes = r.oracle.FilterVisible(ctx, nodes)
		ruleNodes[i] = nodes
		result.AddCookieNotices(list.Name, r.enrichAll(ctx, nodes, list.Name))
	}

	anchors, err := r.textAnchors(ctx)
	if err != nil {
		return fmt.Errorf("failed to search cookie text: %w", err)
	}

	if root, err := page.RootFrameID(ctx); err != nil {
		b.Warn("detection.RootFrameID", err)
	} else {
		r.rootFrame = root
	}
	fixed := r.oracle.FilterVisible(ctx, r.fixedParents(ctx, anchors))
	fixedNotices := r.enrichAll(ctx, fixed, schemas.TechniqueFixedParent)
	fullWidth := r.oracle.FilterVisible(ctx, r.fullWidthParents(ctx, anchors))
	fullWidthNotices := r.enrichAll(ctx, fullWidth, schemas.TechniqueFullWidthParent)

	merged := Deduplicate(fullWidthNotices, fixedNotices)
	fullWidthNotices, fixedNotices = merged[0], merged[1]
	result.AddCookieNotices(schemas.TechniqueFixedParent, fixedNotices)
	result.AddCookieNotices(schemas.TechniqueFullWidthParent, fullWidthNotices)

	r.logger.Debug("Cookie notice detection finished.",
		zap.Int("anchors", len(anchors)),
		zap.Int("fixed_parent", len(fixedNotices)),
		zap.Int("full_width_parent", len(fullWidthNotices)))

	if opts.Screenshots {
		r.capture(ctx, "original")
		for i, list := range p.lists {
			r.captureNodes(ctx, ruleNodes[i], "filter-"+list.Name)
		}
		r.captureNodes(ctx, noticeNodes(fixedNotices), schemas.TechniqueFixedParent)
		r.captureNodes(ctx, noticeNodes(fullWidthNotices), schemas.TechniqueFullWidthParent)
	}
	return nil
}

func (p *Pipeline) detectLanguage(ctx context.Context, r *run) {
	res, err := r.bridge.Evaluate(ctx, scripts.BodyText)
	if err != nil {
		r.bridge.Warn("detection.Language", err)
		return
	}
	lang, err := p.language.Detect(bridge.String(res))
	if err != nil {
		r.bridge.Warn("detection.Language", err)
		return
	}
	r.result.SetLanguage(lang)
}

// noticeNodes returns the nodes of candidates that were enriched.
func noticeNodes(notices []schemas.NoticeCandidate) []cdp.NodeID {
	nodes := make([]cdp.NodeID, 0, len(notices))
	for _, n := range notices {
		if n.NodeID != 0 {
			nodes = append(nodes, n.NodeID)
		}
	}
	return nodes
}

// capture stores a screenshot of the current viewport under label.
func (r *run) capture(ctx context.Context, label string) {
	png, err := r.page.Screenshot(ctx)
	if err != nil {
		r.bridge.Warn("detection.Screenshot", err)
		return
	}
	r.result.AddScreenshot(label, png)
}

// captureNodes takes one screenshot per visible node with the node
// highlighted, labelled "<name>-<i>".
func (r *run) captureNodes(ctx context.Context, nodes []cdp.NodeID, name string) {
	for i, node := range r.oracle.VisibleSubstitutes(ctx, nodes) {
		if err := r.page.Highlight(ctx, node); err != nil {
			r.bridge.Warn("detection.Highlight", err)
		}
		r.capture(ctx, fmt.Sprintf("%s-%d", name, i))
		if err := r.page.HideHighlight(ctx); err != nil {
			r.bridge.Warn("detection.HideHighlight", err)
		}
	}
}
