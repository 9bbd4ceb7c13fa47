// Package stealth makes a headless tab report a consistent, ordinary browser
// profile, so that sites serve the notice a regular visitor would see.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/internal/config"
)

//go:embed evasions.js
var evasionsScript string

// Apply constructs the CDP actions that put persona p on a tab. Empty fields
// of p are left to the browser. The actions must run before the first
// navigation of the tab.
func Apply(p config.PersonaConfig, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser persona",
		zap.String("user_agent", p.UserAgent),
		zap.String("locale", p.Locale),
		zap.String("timezone", p.Timezone))

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}
	languages := AcceptLanguage(p.Languages)
	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if languages != "" {
			ua = ua.WithAcceptLanguage(languages)
		}
		tasks = append(tasks, ua)
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if languages != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": languages}))
	}
	return tasks
}

// AcceptLanguage renders languages as an Accept-Language header value with
// descending quality, e.g. "de-DE,de;q=0.9,en;q=0.8".
func AcceptLanguage(languages []string) string {
	parts := make([]string, 0, len(languages))
	for _, lang := range languages {
		lang = strings.TrimSpace(lang)
		if lang == "" {
			continue
		}
		if len(parts) == 0 {
			parts = append(parts, lang)
			continue
		}
		q := max(10-len(parts), 1)
		parts = append(parts, fmt.Sprintf("%s;q=0.%d", lang, q))
	}
	return strings.Join(parts, ",")
}
