// internal/browser/session/driver.go
package session

import "context"

// Driver is the part of a browser tab the navigation state machine steers.
// Tab implements it over CDP; tests substitute a scripted fake.
type Driver interface {
	// Listen registers fn for every protocol event of the tab. fn runs on the
	// listener goroutine and must not block on protocol calls.
	Listen(fn func(ev interface{}))
	// Navigate points the tab at url. A non-empty errorText is the browser's
	// own navigation failure, e.g. net::ERR_NAME_NOT_RESOLVED.
	Navigate(ctx context.Context, url string) (errorText string, err error)
	StopLoading(ctx context.Context) error
	// ClearBrowser clears cache and cookies, and all site storage of origins.
	ClearBrowser(ctx context.Context, origins []string) error
	SetScriptExecutionDisabled(ctx context.Context, disabled bool) error
	HandleDialog(ctx context.Context, accept bool) error
	DenyPermissions(ctx context.Context, names []string) error
	Close(ctx context.Context) error
}

// DeniedPermissions are the prompts that can cover a cookie notice.
var DeniedPermissions = []string{"notifications", "geolocation", "camera", "microphone"}
