// File: internal/browser/oracle/modal.go
package oracle

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/browser/bridge"
	"github.com/xkilldash9x/noticescan/internal/browser/scripts"
)

// sampleMargin keeps sample points off the viewport edge.
const sampleMargin = 5.0

// minModalPoints is the fewest sample points that can establish modality.
// With fewer remaining after exclusion the page is reported as not modal.
const minModalPoints = 2

// Point is a viewport coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the layout viewport size in CSS pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SamplePoints returns the four corners and four edge midpoints of the
// viewport, inset by the sample margin.
func SamplePoints(vp Viewport) []Point {
	left, top := sampleMargin, sampleMargin
	right, bottom := vp.Width-sampleMargin, vp.Height-sampleMargin
	midX, midY := vp.Width/2, vp.Height/2
	return []Point{
		{left, top}, {left, midY}, {left, bottom},
		{midX, top}, {midX, bottom},
		{right, top}, {right, midY}, {right, bottom},
	}
}

// RemainingPoints drops the sample points covered by excluded. A "full"
// extent covers the whole viewport along its axis.
func RemainingPoints(vp Viewport, excluded *schemas.Geometry) []Point {
	points := SamplePoints(vp)
	if excluded == nil {
		return points
	}
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if !excluded.Contains(p.X, p.Y, vp.Width, vp.Height) {
			out = append(out, p)
		}
	}
	return out
}

// Viewport reads the current layout viewport size from the page.
func (o *Oracle) Viewport(ctx context.Context) (Viewport, error) {
	res, err := o.bridge.Evaluate(ctx, scripts.Viewport)
	if err != nil {
		return Viewport{}, err
	}
	var vp Viewport
	if err := o.bridge.Decode(ctx, res, &vp); err != nil {
		return Viewport{}, fmt.Errorf("failed to read viewport: %w", err)
	}
	return vp, nil
}

// IsModal reports whether every sample point outside excluded hits the same
// topmost element, i.e. a single layer intercepts the rest of the viewport.
func (o *Oracle) IsModal(ctx context.Context, excluded *schemas.Geometry) (bool, error) {
	vp, err := o.Viewport(ctx)
	if err != nil {
		return false, err
	}
	points := RemainingPoints(vp, excluded)
	if len(points) < minModalPoints {
		return false, nil
	}
	expr, err := scripts.HitTest(points)
	if err != nil {
		return false, err
	}
	res, err := o.bridge.Evaluate(ctx, expr)
	if err != nil {
		return false, err
	}
	return bridge.Bool(res), nil
}

// IsModalOrWarn is IsModal with failures recorded as warnings and treated as
// not modal.
func (o *Oracle) IsModalOrWarn(ctx context.Context, excluded *schemas.Geometry) bool {
	modal, err := o.IsModal(ctx, excluded)
	if err != nil {
		o.bridge.Warn("oracle.IsModal", err)
		return false
	}
	return modal
}
