package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/browser/session"
	"github.com/xkilldash9x/noticescan/internal/config"
	"github.com/xkilldash9x/noticescan/internal/detection"
	"github.com/xkilldash9x/noticescan/internal/interaction"
	"github.com/xkilldash9x/noticescan/internal/observability"
)

// Tab is a fresh browser tab in its own browser context. session.Tab
// implements it.
type Tab interface {
	session.Driver
	detection.Page
	interaction.Page
}

// TabFactory opens a new isolated tab.
type TabFactory func(ctx context.Context) (Tab, error)

// AllocatorTabs adapts a browser allocator to a TabFactory.
func AllocatorTabs(a *session.Allocator) TabFactory {
	return func(ctx context.Context) (Tab, error) {
		tab, err := a.NewTab(ctx)
		if err != nil {
			return nil, err
		}
		return tab, nil
	}
}

// Scanner visits one target at a time: it runs the URL retry sequence,
// detects cookie notices on the first page that loads and optionally clicks
// every clickable of every notice in a fresh tab. A Scanner is stateless
// between targets and safe for use by several workers.
type Scanner struct {
	newTab    TabFactory
	pipeline  *detection.Pipeline
	simulator *interaction.Simulator
	cfg       config.ScanConfig
	session   session.Options
	logger    *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithSessionOptions overrides the session timing derived from config.
func WithSessionOptions(opts session.Options) Option {
	return func(s *Scanner) {
		s.session = opts
	}
}

// New creates a scanner opening tabs through newTab.
func New(newTab TabFactory, pipeline *detection.Pipeline, cfg config.Interface, logger *zap.Logger, opts ...Option) (*Scanner, error) {
	if newTab == nil {
		return nil, errors.New("tab factory cannot be nil")
	}
	if pipeline == nil {
		return nil, errors.New("detection pipeline cannot be nil")
	}
	scan := cfg.Scan()
	s := &Scanner{
		newTab:   newTab,
		pipeline: pipeline,
		simulator: interaction.NewSimulator(interaction.Options{
			SettleDelay: scan.ClickSettleDelay,
			LoadTimeout: scan.ClickLoadTimeout,
		}, logger),
		cfg:     scan,
		session: session.OptionsFromConfig(scan, cfg.Browser()),
		logger:  logger.Named("scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Variants returns the URL variants tried for target, in order: the target
// as given, with the www subdomain, then both again over plain http.
func Variants(target schemas.Target) []schemas.Target {
	out := make([]schemas.Target, 0, 4)
	for _, protocol := range []string{schemas.ProtocolHTTPS, schemas.ProtocolHTTP} {
		t := target
		t.SetProtocol(protocol)
		t.RemoveSubdomain()
		out = append(out, t)
		t.SetSubdomain("www")
		out = append(out, t)
	}
	return out
}

// attemptOptions select what one page visit does after it settled.
type attemptOptions struct {
	screenshots bool
	click       *schemas.ClickInstruction
}

// Scan runs the retry sequence for target and returns the result of the
// last attempt. Another variant is only tried after a network-class failure.
// Scan never returns nil; failures are recorded on the result.
func (s *Scanner) Scan(ctx context.Context, target schemas.Target) *schemas.ScanResult {
	variants := Variants(target)
	if n := s.cfg.MaxAttempts; n > 0 && n < len(variants) {
		variants = variants[:n]
	}

	var (
		result    *schemas.ScanResult
		carryOver []string
		variant   schemas.Target
	)
	for i, v := range variants {
		variant = v
		var origins []string
		result, _, origins = s.attempt(ctx, v, i+1, carryOver, attemptOptions{screenshots: s.cfg.Screenshots})
		carryOver = origins

		failed, reason, _ := result.Failure()
		if !failed || !schemas.IsRetryable(reason) || ctx.Err() != nil {
			break
		}
		s.logger.Info("Retrying with next URL variant.",
			append(observability.TargetFields(v, i+1), zap.String("reason", reason))...)
	}

	if failed, _, _ := result.Failure(); !failed && s.cfg.Click {
		s.clickAll(ctx, variant, result)
	}
	return result
}

// attempt visits target once in a fresh tab. The tab is always cleaned up,
// and a panic inside the visit is recorded as a failure of the attempt. The
// returned origins are the storage origins the attempt touched.
func (s *Scanner) attempt(ctx context.Context, target schemas.Target, n int, carryOver []string, opts attemptOptions) (result *schemas.ScanResult, click *schemas.ClickResult, origins []string) {
	result = schemas.NewScanResult(target)
	logger := s.logger.With(observability.TargetFields(target, n)...)
	origins = carryOver

	tab, err := s.newTab(ctx)
	if err != nil {
		fail(result, fmt.Errorf("failed to open tab: %w", err))
		return result, nil, origins
	}
	sess := session.New(tab, result, s.session, logger, carryOver)
	defer sess.Cleanup(ctx)
	defer func() {
		origins = mergeOrigins(carryOver, sess.ObservedOrigins())
		if r := recover(); r != nil {
			logger.Error("Panic during page visit.", zap.Any("panic", r))
			exception := schemas.ExceptionPanic
			if err, ok := r.(error); ok {
				exception = schemas.ExceptionName(err)
			}
			result.SetFailed(fmt.Sprint(r), exception, strings.Split(string(debug.Stack()), "\n"))
			click = nil
		}
	}()

	if err := sess.OpenAndWait(ctx); err != nil {
		fail(result, err)
		return
	}
	if err := s.pipeline.Run(ctx, tab, result, detection.Options{Screenshots: opts.screenshots}); err != nil {
		fail(result, err)
		return
	}
	cookies, err := tab.Cookies(ctx)
	if err != nil {
		fail(result, fmt.Errorf("failed to read cookies: %w", err))
		return
	}
	result.SetCookies(schemas.CookiesAll, cookies)

	if opts.click != nil {
		cr, err := s.simulator.Execute(ctx, tab, sess, result, *opts.click)
		if err != nil {
			fail(result, err)
			return
		}
		click = cr
	}
	logger.Debug("Page visit finished.")
	return
}

// fail records err unless a classified failure is already recorded.
func fail(result *schemas.ScanResult, err error) {
	result.SetFailed(err.Error(), schemas.ExceptionName(err), schemas.ErrorChain(err))
}

// clickAll clicks every clickable of every notice of result, one fresh visit
// per click, and attaches the outcomes. A clickable already clicked through
// another technique's notice reuses that outcome.
func (s *Scanner) clickAll(ctx context.Context, target schemas.Target, result *schemas.ScanResult) {
	memo := interaction.NewMemo()
	for _, technique := range result.Techniques() {
		notices := result.CookieNotices[technique]
		for ni := range notices {
			notice := &notices[ni]
			if s.cfg.MaxClickables > 0 && len(notice.Clickables) > s.cfg.MaxClickables {
				result.AddWarning(schemas.Warning{
					Message:   "Too many clickables to try them out",
					Exception: "TooManyClickables",
					Method:    "scanner.clickAll",
				})
				continue
			}
			for ci := range notice.Clickables {
				if ctx.Err() != nil {
					return
				}
				c := &notice.Clickables[ci]
				if cr, ok := memo.Lookup(c.NodeID); ok {
					c.ClickResult = cr
					continue
				}
				c.ClickResult = s.click(ctx, target, schemas.ClickInstruction{
					Technique:      technique,
					NoticeIndex:    ni,
					ClickableIndex: ci,
				})
				memo.Store(c.NodeID, c.ClickResult)
			}
		}
	}
}

// click replays the visit and performs one click. A visit that fails still
// yields an empty outcome.
func (s *Scanner) click(ctx context.Context, target schemas.Target, instr schemas.ClickInstruction) *schemas.ClickResult {
	visit, cr, _ := s.attempt(ctx, target, 1, nil, attemptOptions{click: &instr})
	if failed, reason, _ := visit.Failure(); failed {
		s.logger.Warn("Click visit failed.",
			zap.String("domain", target.Domain),
			zap.String("technique", instr.Technique),
			zap.Int("notice", instr.NoticeIndex),
			zap.Int("clickable", instr.ClickableIndex),
			zap.String("reason", reason))
	}
	if cr == nil {
		return schemas.NewClickResult()
	}
	return cr
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
