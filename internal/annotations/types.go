// Package annotations stores and serves element-anchored page comments.
package annotations

import "time"

// Breakpoint is the device class an annotation was authored on.
type Breakpoint string

const (
	BreakpointMobile  Breakpoint = "mobile"
	BreakpointTablet  Breakpoint = "tablet"
	BreakpointDesktop Breakpoint = "desktop"
)

// Classify buckets a viewport width into a breakpoint.
func Classify(width int) Breakpoint {
	switch {
	case width < 500:
		return BreakpointMobile
	case width < 1000:
		return BreakpointTablet
	default:
		return BreakpointDesktop
	}
}

// DeviceContext records the viewport an annotation was placed in. Width
// drives display gating; the breakpoint is derived and kept for
// filtering and display.
type DeviceContext struct {
	Breakpoint Breakpoint `json:"breakpoint"`
	Width      int        `json:"width"`
}

// Annotation is one comment pinned to an element on a page. Selector
// plus the fractional offsets re-anchor it across layout changes; X
// and Y are document-relative fractions, the authoring-time fallback
// when the selector no longer resolves.
type Annotation struct {
	ID               string        `json:"id"`
	URL              string        `json:"url"`
	Content          string        `json:"content"`
	Selector         string        `json:"selector"`
	SelectorFallback string        `json:"selectorFallback,omitempty"`
	X                float64       `json:"x"`
	Y                float64       `json:"y"`
	RelativeX        float64       `json:"relativeX"`
	RelativeY        float64       `json:"relativeY"`
	Device           DeviceContext `json:"deviceContext"`
	Resolved         bool          `json:"resolved"`
	AuthorID         string        `json:"authorId"`
	ParentID         string        `json:"parentId,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// ListParams filter a listing. Zero and nil fields mean "any".
type ListParams struct {
	URL         string
	Search      string
	Since       *time.Time
	DeviceWidth *int
	Breakpoints []Breakpoint
	Resolved    *bool
	Limit       int
	Offset      int
}
