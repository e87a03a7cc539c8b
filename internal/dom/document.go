// Package dom maintains a host-side mirror of the embedded document:
// the parsed markup of the latest snapshot plus the layout geometry,
// scroll offset and viewport reported for it. The tracker resolves
// selectors and reads element bounds against this mirror.
package dom

import (
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/canfeed/backend/internal/selector"
)

// Rect is an element's bounding box in embedded-viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// Size holds the embedded viewport dimensions.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Document mirrors one generation of the embedded page. Loading a new
// snapshot bumps the generation and invalidates every element handle
// issued against the previous one.
type Document struct {
	mu         sync.RWMutex
	root       *html.Node
	elements   []*html.Node
	indexOf    map[*html.Node]int
	rects      map[int]Rect
	scrollY    float64
	viewport   Size
	generation uint64
}

// Element is a handle to a node in a specific document generation.
type Element struct {
	doc        *Document
	node       *html.Node
	index      int
	generation uint64
}

// New creates an empty, detached document mirror.
func New() *Document {
	return &Document{
		indexOf: make(map[*html.Node]int),
		rects:   make(map[int]Rect),
	}
}

// LoadSnapshot replaces the mirrored markup. Geometry from the
// previous generation is discarded; handles from it report as
// disconnected.
func (d *Document) LoadSnapshot(markup string) error {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.root = root
	d.elements = d.elements[:0]
	d.indexOf = make(map[*html.Node]int)
	d.rects = make(map[int]Rect)
	d.generation++

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			d.indexOf[n] = len(d.elements)
			d.elements = append(d.elements, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return nil
}

// Clear detaches the mirror entirely.
func (d *Document) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.root = nil
	d.elements = nil
	d.indexOf = make(map[*html.Node]int)
	d.rects = make(map[int]Rect)
	d.generation++
}

// Loaded reports whether a snapshot is currently mirrored.
func (d *Document) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root != nil
}

// Generation returns the current snapshot generation.
func (d *Document) Generation() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation
}

// UpdateGeometry merges reported bounding boxes, keyed by the
// element's preorder index in the current snapshot.
func (d *Document) UpdateGeometry(rects map[int]Rect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for idx, r := range rects {
		if idx >= 0 && idx < len(d.elements) {
			d.rects[idx] = r
		}
	}
}

// SetScroll records the embedded document's scroll offset.
func (d *Document) SetScroll(y float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrollY = y
}

// ScrollY returns the last reported scroll offset.
func (d *Document) ScrollY() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scrollY
}

// SetViewport records the embedded viewport dimensions.
func (d *Document) SetViewport(s Size) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.viewport = s
}

// Viewport returns the embedded viewport dimensions.
func (d *Document) Viewport() Size {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.viewport
}

// Resolve locates the first element matching sel in the current
// snapshot. A miss or an invalid selector yields (nil, false), never
// an error: resolution failure is expected whenever the page mutates.
func (d *Document) Resolve(sel string) (*Element, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.root == nil {
		return nil, false
	}

	node := selector.Resolve(sel, d.root)
	if node == nil {
		return nil, false
	}

	idx, ok := d.indexOf[node]
	if !ok {
		return nil, false
	}

	return &Element{doc: d, node: node, index: idx, generation: d.generation}, true
}

// ElementAt returns the element handle for a preorder index.
func (d *Document) ElementAt(index int) (*Element, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if index < 0 || index >= len(d.elements) {
		return nil, false
	}
	return &Element{doc: d, node: d.elements[index], index: index, generation: d.generation}, true
}

// ElementFromPoint returns the innermost element whose reported bounds
// contain the point, preferring the smallest box. Elements without
// geometry are skipped; body and html never match.
func (d *Document) ElementFromPoint(x, y float64) (*Element, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	best := -1
	var bestArea float64
	for idx, r := range d.rects {
		if x < r.X || x > r.X+r.Width || y < r.Y || y > r.Y+r.Height {
			continue
		}
		node := d.elements[idx]
		tag := strings.ToLower(node.Data)
		if tag == "html" || tag == "body" {
			continue
		}
		area := r.Width * r.Height
		if best == -1 || area < bestArea {
			best = idx
			bestArea = area
		}
	}

	if best == -1 {
		return nil, false
	}
	return &Element{doc: d, node: d.elements[best], index: best, generation: d.generation}, true
}

// Index returns the element's preorder index in its snapshot.
func (e *Element) Index() int {
	return e.index
}

// Connected reports whether the handle still belongs to the current
// snapshot generation. A handle from a superseded snapshot must be
// re-resolved, never reused: the same selector may match an unrelated
// element in the new document.
func (e *Element) Connected() bool {
	if e == nil || e.doc == nil {
		return false
	}
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.generation == e.doc.generation
}

// Bounds returns the element's last reported bounding box, if the host
// has delivered geometry for it in the current generation.
func (e *Element) Bounds() (Rect, bool) {
	if !e.Connected() {
		return Rect{}, false
	}
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	r, ok := e.doc.rects[e.index]
	return r, ok
}

// Selector computes a stable CSS selector for the element.
func (e *Element) Selector() string {
	if e == nil || e.node == nil {
		return ""
	}
	return selector.Compute(e.node)
}

// Tag returns the element's lowercased tag name.
func (e *Element) Tag() string {
	if e == nil || e.node == nil {
		return ""
	}
	return strings.ToLower(e.node.Data)
}
