package scanner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/browser/scripts"
	"github.com/xkilldash9x/noticescan/internal/browser/session"
	"github.com/xkilldash9x/noticescan/internal/config"
	"github.com/xkilldash9x/noticescan/internal/detection"
)

// -- Fakes --

// outcome scripts what navigating to a URL does.
type outcome int

const (
	loads outcome = iota
	loadingFails
	errorStatus
	panics
)

// browserFake hands out tabs and records every URL they navigated to.
type browserFake struct {
	mu       sync.Mutex
	outcomes map[string]outcome
	visits   []string
	cleared  [][]string
	tabErr   error
}

func (b *browserFake) newTab(context.Context) (Tab, error) {
	if b.tabErr != nil {
		return nil, b.tabErr
	}
	return &fakeTab{browser: b}, nil
}

func (b *browserFake) Visits() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.visits...)
}

type fakeTab struct {
	browser  *browserFake
	listener func(ev interface{})
	url      string
}

func (f *fakeTab) Listen(fn func(ev interface{})) { f.listener = fn }

func (f *fakeTab) Navigate(_ context.Context, url string) (string, error) {
	f.url = url
	f.browser.mu.Lock()
	f.browser.visits = append(f.browser.visits, url)
	o := f.browser.outcomes[url]
	f.browser.mu.Unlock()

	f.listener(&network.EventRequestWillBeSent{RequestID: "r1", FrameID: "root", Request: &network.Request{URL: url}})
	switch o {
	case loadingFails:
		f.listener(&network.EventResponseReceived{RequestID: "r2", Response: &network.Response{URL: "https://tracker.net/pixel", Status: 200}})
		f.listener(&network.EventLoadingFailed{RequestID: "r1", ErrorText: "net::ERR_NAME_NOT_RESOLVED"})
		return "", nil
	case errorStatus:
		f.listener(&network.EventResponseReceived{RequestID: "r1", Response: &network.Response{URL: url + "/", Status: 404}})
		return "", nil
	case panics:
		panic("renderer crashed")
	}
	f.listener(&network.EventResponseReceived{RequestID: "r1", Response: &network.Response{URL: url + "/", Status: 200}})
	f.listener(&page.EventLoadEventFired{})
	return "", nil
}

func (f *fakeTab) StopLoading(context.Context) error { return nil }

func (f *fakeTab) ClearBrowser(_ context.Context, origins []string) error {
	f.browser.mu.Lock()
	f.browser.cleared = append(f.browser.cleared, origins)
	f.browser.mu.Unlock()
	return nil
}

func (f *fakeTab) SetScriptExecutionDisabled(context.Context, bool) error { return nil }
func (f *fakeTab) HandleDialog(context.Context, bool) error               { return nil }
func (f *fakeTab) DenyPermissions(context.Context, []string) error        { return nil }
func (f *fakeTab) Close(context.Context) error                            { return nil }

func (f *fakeTab) ResolveNode(context.Context, cdp.NodeID) (runtime.RemoteObjectID, error) {
	return "", errors.New("no nodes")
}

func (f *fakeTab) RequestNode(context.Context, runtime.RemoteObjectID) (cdp.NodeID, error) {
	return 0, errors.New("no nodes")
}

func (f *fakeTab) DescribeNode(context.Context, cdp.NodeID) (*cdp.Node, error) {
	return nil, errors.New("no nodes")
}

func (f *fakeTab) GetProperties(context.Context, runtime.RemoteObjectID) ([]*runtime.PropertyDescriptor, error) {
	return nil, errors.New("no objects")
}

func (f *fakeTab) CallFunctionOn(context.Context, string, runtime.RemoteObjectID) (*runtime.RemoteObject, error) {
	return nil, errors.New("no objects")
}

func (f *fakeTab) Evaluate(_ context.Context, expr string) (*runtime.RemoteObject, error) {
	switch expr {
	case scripts.CMPDefined:
		return &runtime.RemoteObject{Type: runtime.TypeBoolean, Value: []byte("false")}, nil
	case scripts.BodyText:
		return &runtime.RemoteObject{Type: runtime.TypeString, Value: []byte(`"We use cookies"`)}, nil
	}
	return nil, errors.New("unexpected expression")
}

func (f *fakeTab) DocumentHTML(context.Context) (string, error) {
	return "<html><body>We use cookies</body></html>", nil
}

func (f *fakeTab) Search(context.Context, string) ([]cdp.NodeID, error) { return nil, nil }

func (f *fakeTab) RootFrameID(context.Context) (cdp.FrameID, error) { return "root", nil }

func (f *fakeTab) FrameOwner(context.Context, cdp.FrameID) (cdp.NodeID, error) {
	return 0, errors.New("no frames")
}

func (f *fakeTab) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }

func (f *fakeTab) Highlight(context.Context, cdp.NodeID) error { return nil }
func (f *fakeTab) HideHighlight(context.Context) error         { return nil }

func (f *fakeTab) Cookies(context.Context) ([]*network.Cookie, error) {
	return []*network.Cookie{{Name: "session", Domain: "." + strings.TrimPrefix(f.url, "https://")}}, nil
}

type staticLanguage string

func (l staticLanguage) Detect(string) (string, error) { return string(l), nil }

// -- Helpers --

func newTestScanner(t *testing.T, b *browserFake, mutate func(*config.Config)) *Scanner {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.ScanCfg.ClickSettleDelay = time.Millisecond
	cfg.ScanCfg.ClickLoadTimeout = 100 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	pipeline := detection.NewPipeline(nil, staticLanguage("en"), zap.NewNop())
	s, err := New(b.newTab, pipeline, cfg, zap.NewNop(), WithSessionOptions(session.Options{
		NavigateTimeout: time.Second,
		LoadTimeout:     200 * time.Millisecond,
		SettleDelay:     time.Millisecond,
	}))
	require.NoError(t, err)
	return s
}

// -- Test Cases --

func TestNewValidatesDependencies(t *testing.T) {
	cfg := config.NewDefaultConfig()
	pipeline := detection.NewPipeline(nil, staticLanguage("en"), zap.NewNop())

	_, err := New(nil, pipeline, cfg, zap.NewNop())
	assert.Error(t, err)
	_, err = New((&browserFake{}).newTab, nil, cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestVariants(t *testing.T) {
	var urls []string
	for _, v := range Variants(schemas.NewTarget(7, "example.com")) {
		urls = append(urls, v.URL())
		assert.Equal(t, 7, v.Rank)
	}
	assert.Equal(t, []string{
		"https://example.com",
		"https://www.example.com",
		"http://example.com",
		"http://www.example.com",
	}, urls)
}

func TestScan(t *testing.T) {
	t.Run("FirstVariantLoads", func(t *testing.T) {
		b := &browserFake{}
		result := newTestScanner(t, b, nil).Scan(context.Background(), schemas.NewTarget(1, "example.com"))

		failed, _, _ := result.Failure()
		assert.False(t, failed)
		assert.Equal(t, []string{"https://example.com"}, b.Visits())
		assert.Equal(t, "en", result.Language)
		assert.Contains(t, result.HTML, "We use cookies")
		assert.Len(t, result.Cookies[schemas.CookiesAll], 1)
		assert.Contains(t, result.Screenshots, "original")
		assert.Contains(t, result.CookieNotices, schemas.TechniqueFixedParent)
	})

	t.Run("RetriesNetworkFailures", func(t *testing.T) {
		b := &browserFake{outcomes: map[string]outcome{
			"https://example.com":     loadingFails,
			"https://www.example.com": loadingFails,
		}}
		result := newTestScanner(t, b, nil).Scan(context.Background(), schemas.NewTarget(1, "example.com"))

		failed, _, _ := result.Failure()
		assert.False(t, failed)
		assert.Equal(t, []string{"https://example.com", "https://www.example.com", "http://example.com"}, b.Visits())
		assert.Equal(t, "http://example.com", result.URL)
	})

	t.Run("CarriesOriginsToNextAttempt", func(t *testing.T) {
		b := &browserFake{outcomes: map[string]outcome{"https://example.com": loadingFails}}
		newTestScanner(t, b, nil).Scan(context.Background(), schemas.NewTarget(1, "example.com"))

		// Attempt one clears before navigating and on cleanup; attempt two
		// starts by clearing what attempt one touched.
		require.Len(t, b.Visits(), 2)
		require.GreaterOrEqual(t, len(b.cleared), 3)
		assert.Empty(t, b.cleared[0])
		assert.Contains(t, b.cleared[1], ".tracker.net")
		assert.Contains(t, b.cleared[2], ".tracker.net")
	})

	t.Run("StatusCodeIsFinal", func(t *testing.T) {
		b := &browserFake{outcomes: map[string]outcome{"https://example.com": errorStatus}}
		result := newTestScanner(t, b, nil).Scan(context.Background(), schemas.NewTarget(1, "example.com"))

		failed, reason, exception := result.Failure()
		assert.True(t, failed)
		assert.Equal(t, schemas.FailedReasonStatusCode, reason)
		assert.Equal(t, "404", exception)
		assert.Len(t, b.Visits(), 1)
	})

	t.Run("StopsAfterMaxAttempts", func(t *testing.T) {
		b := &browserFake{outcomes: map[string]outcome{
			"https://example.com":     loadingFails,
			"https://www.example.com": loadingFails,
		}}
		s := newTestScanner(t, b, func(c *config.Config) { c.ScanCfg.MaxAttempts = 2 })
		result := s.Scan(context.Background(), schemas.NewTarget(1, "example.com"))

		failed, reason, _ := result.Failure()
		assert.True(t, failed)
		assert.Equal(t, schemas.FailedReasonLoading, reason)
		assert.Len(t, b.Visits(), 2)
	})

	t.Run("PanicBecomesFailure", func(t *testing.T) {
		b := &browserFake{outcomes: map[string]outcome{"https://example.com": panics}}
		result := newTestScanner(t, b, nil).Scan(context.Background(), schemas.NewTarget(1, "example.com"))

		failed, reason, exception := result.Failure()
		assert.True(t, failed)
		assert.Equal(t, "renderer crashed", reason)
		assert.Equal(t, schemas.ExceptionPanic, exception)
		assert.NotEmpty(t, result.FailedTraceback)
	})

	t.Run("TabFailureIsRecorded", func(t *testing.T) {
		b := &browserFake{tabErr: errors.New("browser gone")}
		result := newTestScanner(t, b, nil).Scan(context.Background(), schemas.NewTarget(1, "example.com"))

		failed, reason, exception := result.Failure()
		assert.True(t, failed)
		assert.Contains(t, reason, "browser gone")
		assert.Equal(t, schemas.ExceptionError, exception)
	})
}

func TestClickAll(t *testing.T) {
	notice := func(clickables ...cdp.NodeID) schemas.NoticeCandidate {
		n := schemas.NoticeCandidate{HTML: "<div>cookies</div>"}
		for _, c := range clickables {
			n.Clickables = append(n.Clickables, schemas.Clickable{NodeID: c})
		}
		return n
	}

	b := &browserFake{}
	s := newTestScanner(t, b, func(c *config.Config) { c.ScanCfg.MaxClickables = 2 })
	result := schemas.NewScanResult(schemas.NewTarget(1, "example.com"))
	result.AddCookieNotices("filter-easylist", []schemas.NoticeCandidate{notice(20, 21)})
	result.AddCookieNotices(schemas.TechniqueFixedParent, []schemas.NoticeCandidate{notice(21), notice(30, 31, 32)})

	s.clickAll(context.Background(), schemas.NewTarget(1, "example.com"), result)

	// 20 and 21 are clicked once each; the fixed parent reuses 21.
	assert.Len(t, b.Visits(), 2)

	rules := result.CookieNotices["filter-easylist"][0].Clickables
	fixed := result.CookieNotices[schemas.TechniqueFixedParent]
	require.NotNil(t, rules[0].ClickResult)
	require.NotNil(t, rules[1].ClickResult)
	assert.Same(t, rules[1].ClickResult, fixed[0].Clickables[0].ClickResult)
	assert.Contains(t, rules[0].ClickResult.Cookies, schemas.CookiesBeforeClick)
	assert.Contains(t, rules[0].ClickResult.Cookies, schemas.CookiesAfterClick)

	for _, c := range fixed[1].Clickables {
		assert.Nil(t, c.ClickResult)
	}
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "TooManyClickables", result.Warnings[0].Exception)
}

func TestScanClicksWhenEnabled(t *testing.T) {
	b := &browserFake{}
	s := newTestScanner(t, b, func(c *config.Config) { c.ScanCfg.Click = true })
	result := s.Scan(context.Background(), schemas.NewTarget(1, "example.com"))

	failed, _, _ := result.Failure()
	assert.False(t, failed)
	// No notices were found, so nothing beyond the scan visit happens.
	assert.Len(t, b.Visits(), 1)
}
