// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/config"
)

const (
	dialogTimeout  = 5 * time.Second
	cleanupTimeout = 10 * time.Second
)

// StoppedWaitingLoadEvent is recorded when the load event never fired.
const StoppedWaitingLoadEvent = "load event"

// State is the navigation state of a session.
type State int

const (
	StateIdle State = iota
	StateNavigating
	StateLoadEventPending
	StateSettled
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNavigating:
		return "navigating"
	case StateLoadEventPending:
		return "load_event_pending"
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Options controls the timing of OpenAndWait.
type Options struct {
	NavigateTimeout time.Duration
	LoadTimeout     time.Duration
	SettleDelay     time.Duration
	DenyPermissions bool
}

// OptionsFromConfig derives session options from the scan and browser config.
func OptionsFromConfig(scan config.ScanConfig, browser config.BrowserConfig) Options {
	return Options{
		NavigateTimeout: scan.NavigateTimeout,
		LoadTimeout:     scan.LoadTimeout,
		SettleDelay:     scan.SettleDelay,
		DenyPermissions: browser.DenyPermissions,
	}
}

// Session drives one tab through a single scan attempt: it clears the browser,
// navigates, classifies the primary request and waits for the page to settle.
// Protocol events are folded into the attempt's ScanResult as they arrive.
type Session struct {
	driver Driver
	result *schemas.ScanResult
	opts   Options
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	primaryRequest  network.RequestID
	rootFrame       cdp.FrameID
	loaded          bool
	recordRedirects bool
	observing       *schemas.ClickResult
	awaitNavigation bool
	loadedURLs      []string
	carryOver       []string

	dialogs    int
	dialogDone chan struct{}

	// closed is set by Cleanup. Events arriving later no longer touch the
	// result.
	closeMu sync.RWMutex
	closed  bool

	loadCh    chan struct{}
	failCh    chan struct{}
	failOnce  sync.Once
	startOnce sync.Once
}

// New creates a session for result. carryOver lists storage origins observed
// by an earlier attempt; they are cleared before navigating.
func New(driver Driver, result *schemas.ScanResult, opts Options, logger *zap.Logger, carryOver []string) *Session {
	return &Session{
		driver:          driver,
		result:          result,
		opts:            opts,
		logger:          logger.Named("session").With(zap.String("url", result.URL)),
		state:           StateIdle,
		recordRedirects: true,
		carryOver:       carryOver,
		dialogDone:      make(chan struct{}, 1),
		loadCh:          make(chan struct{}, 1),
		failCh:          make(chan struct{}),
	}
}

// State returns the current navigation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		s.logger.Debug("Navigation state changed.", zap.Stringer("from", prev), zap.Stringer("to", state))
	}
}

// RootFrame returns the frame of the first request, the page's main frame.
func (s *Session) RootFrame() cdp.FrameID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootFrame
}

// ObservedOrigins returns the storage origins of every response seen so far.
func (s *Session) ObservedOrigins() []string {
	s.mu.Lock()
	urls := append([]string(nil), s.loadedURLs...)
	s.mu.Unlock()
	return StorageOrigins(urls)
}

// fail records a classified failure. Only the first failure of the attempt is
// kept and wakes up a pending wait.
func (s *Session) fail(reason, exception string) {
	if !s.result.SetFailed(reason, exception, nil) {
		return
	}
	s.logger.Info("Scan attempt failed.", zap.String("reason", reason), zap.String("exception", exception))
	s.failOnce.Do(func() { close(s.failCh) })
}

// failure returns the classified failure of the attempt as an error.
func (s *Session) failure() error {
	failed, reason, exception := s.result.Failure()
	if !failed {
		return nil
	}
	if sentinel := schemas.ReasonError(reason); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, exception)
	}
	return fmt.Errorf("%s: %s", reason, exception)
}

// handleEvent runs on the listener goroutine for every protocol event.
func (s *Session) handleEvent(ev interface{}) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return
	}

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		s.result.AddRequest(e.Request.URL)
		s.mu.Lock()
		if s.primaryRequest == "" {
			s.primaryRequest = e.RequestID
			s.rootFrame = e.FrameID
		}
		s.mu.Unlock()

	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		s.result.AddResponse(schemas.Response{
			URL:      e.Response.URL,
			Status:   e.Response.Status,
			MimeType: e.Response.MimeType,
			Headers:  e.Response.Headers,
		})
		s.mu.Lock()
		s.loadedURLs = append(s.loadedURLs, e.Response.URL)
		primary := e.RequestID == s.primaryRequest
		s.mu.Unlock()
		if primary && e.Response.Status >= 400 && e.Response.Status < 600 {
			s.fail(schemas.FailedReasonStatusCode, strconv.FormatInt(e.Response.Status, 10))
		}

	case *network.EventLoadingFailed:
		s.mu.Lock()
		primary := e.RequestID == s.primaryRequest
		s.mu.Unlock()
		if primary {
			s.fail(schemas.FailedReasonLoading, e.ErrorText)
		}

	case *page.EventLoadEventFired:
		s.mu.Lock()
		s.loaded = true
		s.recordRedirects = false
		s.mu.Unlock()
		select {
		case s.loadCh <- struct{}{}:
		default:
		}

	case *page.EventFrameStartedLoading:
		s.mu.Lock()
		if s.observing != nil && e.FrameID == s.rootFrame {
			s.loaded = false
			s.awaitNavigation = true
			// Drop a load signal of the previous document.
			select {
			case <-s.loadCh:
			default:
			}
		}
		s.mu.Unlock()

	case *page.EventFrameRequestedNavigation:
		s.mu.Lock()
		observing, root := s.observing, e.FrameID == s.rootFrame
		s.mu.Unlock()
		if observing != nil {
			observing.AddNewPage(schemas.NewPage{URL: e.URL, RootFrame: root})
		}

	case *page.EventNavigatedWithinDocument:
		s.mu.Lock()
		observing, record, root := s.observing, s.recordRedirects, e.FrameID == s.rootFrame
		s.mu.Unlock()
		if record {
			s.result.AddRedirect(e.URL, root)
		}
		if observing != nil {
			observing.AddNewPage(schemas.NewPage{URL: e.URL, RootFrame: root})
		}

	case *page.EventWindowOpen:
		s.mu.Lock()
		observing := s.observing
		s.mu.Unlock()
		if observing != nil {
			observing.AddNewPage(schemas.NewPage{URL: e.URL, RootFrame: true, NewWindow: true})
		}

	case *page.EventJavascriptDialogOpening:
		s.mu.Lock()
		s.dialogs++
		s.mu.Unlock()

		accept := e.Type == page.DialogTypeAlert
		// Protocol calls must not block the listener goroutine.
		go s.answerDialog(accept)
	}
}

func (s *Session) answerDialog(accept bool) {
	ctx, cancel := context.WithTimeout(context.Background(), dialogTimeout)
	defer cancel()
	if err := s.driver.HandleDialog(ctx, accept); err != nil {
		s.closeMu.RLock()
		if !s.closed {
			s.result.AddWarning(schemas.NewWarning("session.HandleDialog", err))
		}
		s.closeMu.RUnlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialogs--
	select {
	case s.dialogDone <- struct{}{}:
	default:
	}
}

// waitDialogs blocks until no dialog answer is in flight or ctx is done.
func (s *Session) waitDialogs(ctx context.Context) {
	for {
		s.mu.Lock()
		pending := s.dialogs
		s.mu.Unlock()
		if pending == 0 {
			return
		}
		select {
		case <-s.dialogDone:
		case <-ctx.Done():
			s.logger.Debug("Gave up waiting for dialog answers.", zap.Int("pending", pending))
			return
		}
	}
}

// OpenAndWait clears the browser, navigates to the result URL and waits for
// the load event plus the settle delay. Classified failures are recorded on
// the result and returned wrapping their sentinel error; any other error is
// left for the caller to record.
func (s *Session) OpenAndWait(ctx context.Context) error {
	s.startOnce.Do(func() { s.driver.Listen(s.handleEvent) })

	if s.opts.DenyPermissions {
		if err := s.driver.DenyPermissions(ctx, DeniedPermissions); err != nil {
			s.result.AddWarning(schemas.NewWarning("session.DenyPermissions", err))
		}
	}

	s.setState(StateNavigating)
	if err := s.driver.ClearBrowser(ctx, s.carryOver); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("failed to clear browser: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavigateTimeout)
	errorText, err := s.driver.Navigate(navCtx, s.result.URL)
	navErr := navCtx.Err()
	cancel()
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(navErr, context.DeadlineExceeded)) {
			if stopErr := s.driver.StopLoading(ctx); stopErr != nil {
				s.result.AddWarning(schemas.NewWarning("session.StopLoading", stopErr))
			}
			s.fail(schemas.FailedReasonTimeout, schemas.ExceptionName(err))
			s.setState(StateTimedOut)
			return s.failure()
		}
		s.setState(StateFailed)
		return fmt.Errorf("failed to navigate: %w", err)
	}
	if errorText != "" {
		s.fail(schemas.FailedReasonLoading, errorText)
	}
	if err := s.failure(); err != nil {
		s.setState(StateFailed)
		return err
	}

	s.setState(StateLoadEventPending)
	loaded, err := s.WaitForLoad(ctx, s.opts.LoadTimeout)
	if err != nil {
		return err
	}
	if err := s.failure(); err != nil {
		s.setState(StateFailed)
		return err
	}
	if !loaded {
		s.stopWaiting(ctx)
		s.fail(schemas.FailedReasonTimeout, StoppedWaitingLoadEvent)
		s.setState(StateTimedOut)
		return s.failure()
	}

	if err := Sleep(ctx, s.opts.SettleDelay); err != nil {
		return err
	}
	if err := s.failure(); err != nil {
		s.setState(StateFailed)
		return err
	}
	s.setState(StateSettled)
	return nil
}

// stopWaiting marks the result and stops the page from loading further.
func (s *Session) stopWaiting(ctx context.Context) {
	s.result.SetStoppedWaiting(StoppedWaitingLoadEvent)
	if err := s.driver.StopLoading(ctx); err != nil {
		s.result.AddWarning(schemas.NewWarning("session.StopLoading", err))
	}
}

// WaitForLoad blocks until the load event of the current document fired,
// the attempt failed, or timeout elapsed. It reports whether the page is
// loaded; the error is only set when ctx is done.
func (s *Session) WaitForLoad(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		loaded := s.loaded
		s.mu.Unlock()
		if loaded {
			return true, nil
		}
		select {
		case <-s.loadCh:
		case <-s.failCh:
			return false, nil
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// ArmNavigationObservation routes the navigations and windows that follow to
// cr, and makes a root frame reload reset the load state.
func (s *Session) ArmNavigationObservation(cr *schemas.ClickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observing = cr
}

// NavigationPending reports whether the root frame started loading a new
// document while observing.
func (s *Session) NavigationPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaitNavigation
}

// WaitForNavigation waits for a pending root frame navigation to load. A
// timeout only marks the result as stopped waiting.
func (s *Session) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	if !s.NavigationPending() {
		return nil
	}
	loaded, err := s.WaitForLoad(ctx, timeout)
	if err != nil {
		return err
	}
	if !loaded {
		s.stopWaiting(ctx)
	}
	return nil
}

// Cleanup waits for pending dialog answers, stops script execution, clears
// every origin the attempt touched and closes the tab. It runs detached from
// ctx so that it also completes after the scan deadline passed; failures are
// only logged. The result is not modified by the session afterwards.
func (s *Session) Cleanup(ctx context.Context) {
	cctx, cancel := context.WithTimeout(Detach(ctx), cleanupTimeout)
	defer cancel()
	defer func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()
	}()

	s.waitDialogs(cctx)

	if err := s.driver.SetScriptExecutionDisabled(cctx, true); err != nil {
		s.logger.Debug("Failed to disable script execution.", zap.Error(err))
	}
	s.mu.Lock()
	urls := append([]string(nil), s.loadedURLs...)
	s.mu.Unlock()
	origins := mergeOrigins(s.carryOver, StorageOrigins(urls))
	if err := s.driver.ClearBrowser(cctx, origins); err != nil {
		s.logger.Warn("Clearing browser failed.", zap.Error(err))
	}
	if err := s.driver.Close(cctx); err != nil {
		s.logger.Debug("Failed to close tab.", zap.Error(err))
	}
}

func mergeOrigins(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, o := range list {
			if _, ok := seen[o]; ok {
				continue
			}
			seen[o] = struct{}{}
			out = append(out, o)
		}
	}
	return out
}
