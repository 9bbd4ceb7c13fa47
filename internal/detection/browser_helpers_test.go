// internal/detection/browser_helpers_test.go
package detection

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/browser/bridge"
	"github.com/xkilldash9x/noticescan/internal/browser/session"
	"github.com/xkilldash9x/noticescan/internal/config"
)

const (
	cleanupGracePeriod    = 1 * time.Second
	defaultTestTimeout    = 2 * time.Minute
	initializationTimeout = 30 * time.Second
	pageLoadTimeout       = 15 * time.Second
)

// chromeBinaries are the names chromedp looks for on Linux and macOS.
var chromeBinaries = []string{
	"headless_shell",
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

func chromeAvailable() bool {
	for _, name := range chromeBinaries {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// browserFixture is a headless browser shared by the subtests of one test.
type browserFixture struct {
	ctx    context.Context
	alloc  *session.Allocator
	logger *zap.Logger
}

// newBrowserFixture launches headless Chrome, or skips the test when no
// browser is installed.
func newBrowserFixture(t *testing.T) *browserFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if !chromeAvailable() {
		t.Skip("skipping browser test: no Chrome or Chromium binary found")
	}

	logger := zaptest.NewLogger(t)
	var rootCtx context.Context
	var rootCancel context.CancelFunc
	if deadline, ok := t.Deadline(); ok {
		rootCtx, rootCancel = context.WithDeadline(context.Background(), deadline.Add(-cleanupGracePeriod))
	} else {
		rootCtx, rootCancel = context.WithTimeout(context.Background(), defaultTestTimeout)
	}
	t.Cleanup(rootCancel)

	initCtx, initCancel := context.WithTimeout(rootCtx, initializationTimeout)
	defer initCancel()
	alloc, err := session.NewAllocator(initCtx, config.BrowserConfig{
		Headless:     true,
		DisableGPU:   true,
		WindowWidth:  1280,
		WindowHeight: 800,
	}, logger)
	if err != nil {
		t.Skipf("skipping browser test: %v", err)
	}
	t.Cleanup(alloc.Close)

	return &browserFixture{ctx: rootCtx, alloc: alloc, logger: logger}
}

// createStaticTestServer serves html for every path.
func createStaticTestServer(t *testing.T, html string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, html)
	}))
	t.Cleanup(server.Close)
	return server
}

// loadedPage is one fixture document open in its own tab.
type loadedPage struct {
	ctx    context.Context
	tab    *session.Tab
	result *schemas.ScanResult
	logger *zap.Logger
}

// open serves html, loads it in a fresh tab and waits for the load event.
func (f *browserFixture) open(t *testing.T, html string) *loadedPage {
	t.Helper()
	server := createStaticTestServer(t, html)

	tab, err := f.alloc.NewTab(f.ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tab.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(f.ctx, pageLoadTimeout)
	defer cancel()
	errorText, err := tab.Navigate(ctx, server.URL)
	require.NoError(t, err)
	require.Empty(t, errorText)
	require.Eventually(t, func() bool {
		res, err := tab.Evaluate(ctx, "document.readyState === 'complete' && location.protocol === 'http:'")
		return err == nil && bridge.Bool(res)
	}, pageLoadTimeout, 50*time.Millisecond, "fixture page did not finish loading")

	result := schemas.NewScanResult(schemas.NewTarget(1, "127.0.0.1"))
	return &loadedPage{ctx: f.ctx, tab: tab, result: result, logger: f.logger}
}

// node returns the only element matching the CSS selector, searching child
// frames too.
func (p *loadedPage) node(t *testing.T, selector string) cdp.NodeID {
	t.Helper()
	nodes, err := p.tab.Search(p.ctx, selector)
	require.NoError(t, err)
	require.Len(t, nodes, 1, "selector %q", selector)
	return nodes[0]
}

// run prepares a pipeline run against the page with the root frame known.
func (p *loadedPage) run(t *testing.T) *run {
	t.Helper()
	r := newRun(p.tab, p.result, p.logger)
	root, err := p.tab.RootFrameID(p.ctx)
	require.NoError(t, err)
	r.rootFrame = root
	return r
}
