// internal/browser/session/allocator.go
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/internal/browser/stealth"
	"github.com/xkilldash9x/noticescan/internal/config"
)

// Allocator owns the browser process, or the connection to a remote one, and
// hands out isolated tabs.
type Allocator struct {
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	persona       config.PersonaConfig
	logger        *zap.Logger
}

// flagArgs normalizes extra command line switches into chromedp flags.
// "--key=value" and "key=value" become key: "value"; bare switches become
// key: true.
func flagArgs(args []string) map[string]interface{} {
	flags := make(map[string]interface{}, len(args))
	for _, arg := range args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, ok := strings.Cut(arg, "="); ok {
			flags[key] = value
			continue
		}
		flags[arg] = true
	}
	return flags
}

// AllocatorOptions builds the exec allocator options for a locally launched
// browser.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		// Required in most containers.
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for key, value := range flagArgs(cfg.Args) {
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}

// NewAllocator starts the browser, or attaches to cfg.DebuggerURL, and waits
// until it accepts targets. ctx bounds the browser's whole lifetime.
func NewAllocator(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Allocator, error) {
	a := &Allocator{persona: cfg.Persona, logger: logger.Named("allocator")}

	if cfg.DebuggerURL != "" {
		a.logger.Info("Connecting to remote browser.", zap.String("debugger_url", cfg.DebuggerURL))
		a.allocCtx, a.allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.DebuggerURL)
	} else {
		a.logger.Info("Launching browser.", zap.Bool("headless", cfg.Headless), zap.String("exec_path", cfg.ExecPath))
		a.allocCtx, a.allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	}

	a.browserCtx, a.browserCancel = chromedp.NewContext(a.allocCtx)
	// The first Run starts the browser. It must use the browser context itself,
	// since canceling the context of the first Run closes the browser.
	if err := chromedp.Run(a.browserCtx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return a, nil
}

// NewTab opens a tab in a fresh browser context, so cookies and storage never
// leak between scans.
func (a *Allocator) NewTab(ctx context.Context) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(a.browserCtx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create tab: %w", err)
	}

	t := &Tab{ctx: tabCtx, cancel: cancel, logger: a.logger.Named("tab")}
	if c := chromedp.FromContext(tabCtx); c != nil {
		t.browserContextID = c.BrowserContextID
	}
	if err := t.enable(ctx); err != nil {
		_ = t.Close(ctx)
		return nil, fmt.Errorf("failed to enable tab domains: %w", err)
	}
	if a.persona.Enabled {
		if err := t.run(ctx, stealth.Apply(a.persona, t.logger)); err != nil {
			_ = t.Close(ctx)
			return nil, fmt.Errorf("failed to apply browser persona: %w", err)
		}
	}
	return t, nil
}

// Close shuts the browser down. Tabs still open are closed with it.
func (a *Allocator) Close() {
	if a.browserCancel != nil {
		if err := chromedp.Cancel(a.browserCtx); err != nil {
			a.logger.Debug("Browser context close returned an error.", zap.Error(err))
		}
		a.browserCancel()
	}
	if a.allocCancel != nil {
		a.allocCancel()
	}
}
