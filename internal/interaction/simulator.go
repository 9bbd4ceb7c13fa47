// internal/interaction/simulator.go
package interaction

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/browser/bridge"
	"github.com/xkilldash9x/noticescan/internal/browser/oracle"
	"github.com/xkilldash9x/noticescan/internal/browser/scripts"
	"github.com/xkilldash9x/noticescan/internal/browser/session"
)

// Page is the surface a click is performed on. session.Tab implements it.
type Page interface {
	bridge.Remote
	Cookies(ctx context.Context) ([]*network.Cookie, error)
}

// Navigation tracks the page lifecycle around the click. session.Session
// implements it.
type Navigation interface {
	ArmNavigationObservation(cr *schemas.ClickResult)
	WaitForNavigation(ctx context.Context, timeout time.Duration) error
}

// Options controls the waits after a click.
type Options struct {
	SettleDelay time.Duration
	LoadTimeout time.Duration
}

// Simulator clicks one clickable of one detected notice and records what the
// page did in response.
type Simulator struct {
	opts   Options
	logger *zap.Logger
}

// NewSimulator creates a simulator.
func NewSimulator(opts Options, logger *zap.Logger) *Simulator {
	return &Simulator{opts: opts, logger: logger.Named("interaction")}
}

// Execute performs click against the notices recorded on result, which must
// come from a detection run on the same page. An instruction that does not
// address an existing clickable yields a result with cookies only.
func (s *Simulator) Execute(ctx context.Context, page Page, nav Navigation, result *schemas.ScanResult, click schemas.ClickInstruction) (*schemas.ClickResult, error) {
	b := bridge.New(page, result, s.logger)
	o := oracle.New(b, s.logger)
	cr := schemas.NewClickResult()

	if err := s.snapshotCookies(ctx, page, cr, schemas.CookiesBeforeClick); err != nil {
		return nil, err
	}

	notice, ok := result.Notice(click.Technique, click.NoticeIndex)
	if ok && click.ClickableIndex >= 0 && click.ClickableIndex < len(notice.Clickables) {
		clickable := notice.Clickables[click.ClickableIndex]
		nav.ArmNavigationObservation(cr)

		if _, err := b.CallOn(ctx, clickable.NodeID, scripts.Click); err != nil {
			b.Warn("interaction.Click", err)
		}
		if err := session.Sleep(ctx, s.opts.SettleDelay); err != nil {
			return nil, err
		}
		if err := nav.WaitForNavigation(ctx, s.opts.LoadTimeout); err != nil {
			return nil, err
		}

		geometry := notice.Geometry()
		cr.SetIsPageModal(o.IsModalOrWarn(ctx, &geometry))
		visible := b.Exists(ctx, notice.NodeID) && o.IsVisible(ctx, notice.NodeID).Visible
		cr.SetNoticeVisibleAfterClick(visible)

		s.logger.Debug("Clicked clickable.",
			zap.String("technique", click.Technique),
			zap.Int("notice", click.NoticeIndex),
			zap.Int("clickable", click.ClickableIndex),
			zap.Bool("notice_visible", visible),
			zap.Bool("new_pages", cr.HasNewPages()))
	}

	if err := s.snapshotCookies(ctx, page, cr, schemas.CookiesAfterClick); err != nil {
		return nil, err
	}
	return cr, nil
}

func (s *Simulator) snapshotCookies(ctx context.Context, page Page, cr *schemas.ClickResult, key string) error {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to read %s cookies: %w", key, err)
	}
	cr.SetCookies(key, cookies)
	return nil
}
