// Package tracker keeps annotation markers glued to the page elements
// they were placed on. Each frame it re-derives every anchor's overlay
// position from the mirrored document and publishes a snapshot when
// anything moved.
package tracker

import (
	"math"
	"sort"
	"sync"

	"github.com/canfeed/backend/internal/dom"
)

const (
	// viewportTolerance is how far the live viewport width may drift
	// from the width an anchor was placed at before the anchor is
	// hidden. Layouts reflow across breakpoints; a marker positioned
	// for one layout is misleading in another.
	viewportTolerance = 100.0

	// epsilon is the minimum movement worth republishing. Sub-pixel
	// jitter from layout rounding would otherwise spam the host.
	epsilon = 0.1
)

// State is the tracker lifecycle state.
type State int

const (
	StateDetached State = iota
	StateAttached
)

// Anchor binds an annotation to an element: a stable selector plus the
// fractional offset inside that element where the marker sits, and the
// viewport width the annotation was authored at.
type Anchor struct {
	ID          string
	Selector    string
	RelativeX   float64
	RelativeY   float64
	DeviceWidth int
}

// Position is one anchor's published overlay position. An anchor whose
// element cannot be resolved, has no geometry yet, or is suppressed by
// the viewport gate publishes Visible=false.
type Position struct {
	ID      string  `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
}

// Placement is the anchoring data derived from a placement click.
type Placement struct {
	Selector  string
	RelativeX float64
	RelativeY float64
	Bounds    dom.Rect
}

// Snapshot is one published frame of overlay state.
type Snapshot struct {
	Positions []Position `json:"positions"`
	Highlight *dom.Rect  `json:"highlight,omitempty"`
	Placement *dom.Rect  `json:"placement,omitempty"`
}

// Tracker resolves anchors against a document mirror on a frame
// cadence. Element handles are cached between frames and re-resolved
// only when their snapshot generation is superseded.
type Tracker struct {
	scheduler Scheduler
	publish   func(Snapshot)

	mu        sync.Mutex
	state     State
	doc       *dom.Document
	anchors   map[string]Anchor
	cache     map[string]*dom.Element
	focused   string
	placement *dom.Element

	last          map[string]Position
	lastHighlight *dom.Rect
	lastPlacement *dom.Rect
}

// New creates a detached tracker. publish is invoked outside the
// tracker's lock whenever the overlay state changes.
func New(scheduler Scheduler, publish func(Snapshot)) *Tracker {
	return &Tracker{
		scheduler: scheduler,
		publish:   publish,
		anchors:   make(map[string]Anchor),
		cache:     make(map[string]*dom.Element),
	}
}

// State returns the lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attach binds the tracker to a document mirror and starts the frame
// loop. Attaching while attached rebinds to the new document.
func (t *Tracker) Attach(doc *dom.Document) {
	t.mu.Lock()
	wasAttached := t.state == StateAttached
	t.state = StateAttached
	t.doc = doc
	t.cache = make(map[string]*dom.Element)
	t.placement = nil
	t.last = nil
	t.lastHighlight = nil
	t.lastPlacement = nil
	t.mu.Unlock()

	if !wasAttached {
		t.scheduler.Start(t.frame)
	}
}

// Detach stops the frame loop. No snapshot is published after Detach
// returns.
func (t *Tracker) Detach() {
	t.mu.Lock()
	if t.state == StateDetached {
		t.mu.Unlock()
		return
	}
	t.state = StateDetached
	t.doc = nil
	t.cache = make(map[string]*dom.Element)
	t.placement = nil
	t.mu.Unlock()

	t.scheduler.Stop()
}

// SetAnchors replaces the tracked anchor set.
func (t *Tracker) SetAnchors(anchors []Anchor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.anchors = make(map[string]Anchor, len(anchors))
	for _, a := range anchors {
		t.anchors[a.ID] = a
	}
	t.cache = make(map[string]*dom.Element)
}

// AddAnchor starts tracking one anchor.
func (t *Tracker) AddAnchor(a Anchor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.anchors[a.ID] = a
	delete(t.cache, a.ID)
}

// RemoveAnchor stops tracking an anchor.
func (t *Tracker) RemoveAnchor(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.anchors, id)
	delete(t.cache, id)
	if t.focused == id {
		t.focused = ""
	}
}

// Focus marks an anchor whose element should be highlighted. An empty
// id clears the highlight.
func (t *Tracker) Focus(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.focused = id
}

// Place derives anchoring data from a click at document coordinates and
// highlights the hit element until the placement is committed or
// cancelled. The placement highlight overrides any focused highlight.
func (t *Tracker) Place(x, y float64) (Placement, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateAttached || t.doc == nil {
		return Placement{}, false
	}

	el, ok := t.doc.ElementFromPoint(x, y)
	if !ok {
		return Placement{}, false
	}
	rect, ok := el.Bounds()
	if !ok {
		return Placement{}, false
	}

	p := Placement{
		Selector:  el.Selector(),
		RelativeX: 0.5,
		RelativeY: 0.5,
		Bounds:    rect,
	}
	if rect.Width > 0 {
		p.RelativeX = (x - rect.X) / rect.Width
	}
	if rect.Height > 0 {
		p.RelativeY = (y - rect.Y) / rect.Height
	}

	t.placement = el
	return p, true
}

// CancelPlacement drops the pending placement highlight.
func (t *Tracker) CancelPlacement() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.placement = nil
}

func (t *Tracker) frame() {
	t.mu.Lock()

	if t.state != StateAttached || t.doc == nil || !t.doc.Loaded() {
		t.mu.Unlock()
		return
	}

	viewportWidth := t.doc.Viewport().Width
	positions := make(map[string]Position, len(t.anchors))

	for id, anchor := range t.anchors {
		pos := Position{ID: id}

		if anchor.DeviceWidth > 0 &&
			math.Abs(float64(anchor.DeviceWidth-viewportWidth)) > viewportTolerance {
			positions[id] = pos
			continue
		}

		el := t.cache[id]
		if el == nil || !el.Connected() {
			resolved, ok := t.doc.Resolve(anchor.Selector)
			if !ok {
				delete(t.cache, id)
				positions[id] = pos
				continue
			}
			el = resolved
			t.cache[id] = el
		}

		rect, ok := el.Bounds()
		if !ok {
			positions[id] = pos
			continue
		}

		pos.X = rect.X + anchor.RelativeX*rect.Width
		pos.Y = rect.Y + anchor.RelativeY*rect.Height
		pos.Visible = true
		positions[id] = pos
	}

	var highlight, placement *dom.Rect
	if t.placement != nil && t.placement.Connected() {
		if r, ok := t.placement.Bounds(); ok {
			placement = &r
		}
	} else if t.focused != "" {
		if el := t.cache[t.focused]; el != nil && el.Connected() {
			if r, ok := el.Bounds(); ok {
				highlight = &r
			}
		}
	}

	if !t.changed(positions, highlight, placement) {
		t.mu.Unlock()
		return
	}

	t.last = positions
	t.lastHighlight = highlight
	t.lastPlacement = placement
	snap := buildSnapshot(positions, highlight, placement)
	publish := t.publish
	t.mu.Unlock()

	if publish != nil {
		publish(snap)
	}
}

func (t *Tracker) changed(positions map[string]Position, highlight, placement *dom.Rect) bool {
	if t.last == nil || len(positions) != len(t.last) {
		return true
	}
	for id, pos := range positions {
		prev, ok := t.last[id]
		if !ok || prev.Visible != pos.Visible {
			return true
		}
		if math.Abs(prev.X-pos.X) > epsilon || math.Abs(prev.Y-pos.Y) > epsilon {
			return true
		}
	}
	return rectChanged(t.lastHighlight, highlight) || rectChanged(t.lastPlacement, placement)
}

func rectChanged(prev, next *dom.Rect) bool {
	if (prev == nil) != (next == nil) {
		return true
	}
	if prev == nil {
		return false
	}
	return math.Abs(prev.X-next.X) > epsilon ||
		math.Abs(prev.Y-next.Y) > epsilon ||
		math.Abs(prev.Width-next.Width) > epsilon ||
		math.Abs(prev.Height-next.Height) > epsilon
}

func buildSnapshot(positions map[string]Position, highlight, placement *dom.Rect) Snapshot {
	out := make([]Position, 0, len(positions))
	for _, pos := range positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return Snapshot{Positions: out, Highlight: highlight, Placement: placement}
}
