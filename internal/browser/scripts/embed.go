// internal/browser/scripts/embed.go
package scripts

import (
	_ "embed"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Function declarations are called with `this` bound to an element through
// Runtime.callFunctionOn. Expressions are evaluated in the main world.

//go:embed visible.js
var IsVisible string

//go:embed block_parent.js
var BlockParent string

//go:embed fixed_parent.js
var FixedParent string

//go:embed full_width_parent.js
var FullWidthParent string

//go:embed notice_properties.js
var NoticeProperties string

//go:embed clickables.js
var Clickables string

//go:embed clickable_properties.js
var ClickableProperties string

//go:embed click.js
var Click string

//go:embed viewport.js
var Viewport string

//go:embed hit_test.js
var hitTest string

//go:embed rule_matches.js
var ruleMatches string

// CMPDefined checks for the IAB consent management API.
const CMPDefined = "typeof window.__cmp !== 'undefined'"

// BodyText returns the rendered text of the document body.
const BodyText = "document.body ? document.body.innerText : ''"

// Invoke builds an expression that calls a declaration with arg encoded as
// JSON.
func Invoke(declaration string, arg any) (string, error) {
	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("failed to encode script argument: %w", err)
	}
	return fmt.Sprintf("(%s)(%s)", declaration, raw), nil
}

// RuleMatches builds an expression returning every element that matches any
// of selectors, without duplicates.
func RuleMatches(selectors []string) (string, error) {
	if selectors == nil {
		selectors = []string{}
	}
	return Invoke(ruleMatches, selectors)
}

// HitTest builds an expression reporting whether every point hits the same
// topmost element.
func HitTest(points any) (string, error) {
	return Invoke(hitTest, points)
}
