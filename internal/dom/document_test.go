package dom

import (
	"testing"
)

const fixture = `<html><head></head><body>
	<div id="app">
		<header><h1>Title</h1></header>
		<main><p>first</p><p>second</p></main>
	</div>
</body></html>`

func loadFixture(t *testing.T) *Document {
	t.Helper()
	d := New()
	if err := d.LoadSnapshot(fixture); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	return d
}

func TestResolveAndSelectorRoundTrip(t *testing.T) {
	d := loadFixture(t)

	el, ok := d.Resolve("#app")
	if !ok {
		t.Fatal("Resolve(#app) missed")
	}
	if el.Selector() != "#app" {
		t.Errorf("Selector() = %q", el.Selector())
	}

	p, ok := d.Resolve("main > p:nth-of-type(2)")
	if !ok {
		t.Fatal("Resolve(second p) missed")
	}
	if again, ok := d.Resolve(p.Selector()); !ok || again.Index() != p.Index() {
		t.Errorf("selector round trip failed for %q", p.Selector())
	}
}

func TestResolveMissIsNotAnError(t *testing.T) {
	d := loadFixture(t)

	if _, ok := d.Resolve("#missing"); ok {
		t.Error("expected miss for absent id")
	}
	if _, ok := d.Resolve("p[["); ok {
		t.Error("expected miss for invalid selector")
	}

	empty := New()
	if _, ok := empty.Resolve("#app"); ok {
		t.Error("expected miss on unloaded document")
	}
}

func TestGenerationInvalidatesHandles(t *testing.T) {
	d := loadFixture(t)

	el, ok := d.Resolve("#app")
	if !ok {
		t.Fatal("Resolve missed")
	}
	if !el.Connected() {
		t.Fatal("fresh handle reports disconnected")
	}

	if err := d.LoadSnapshot(fixture); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if el.Connected() {
		t.Error("handle survived snapshot reload")
	}
	if _, ok := el.Bounds(); ok {
		t.Error("stale handle returned bounds")
	}
}

func TestGeometryLifecycle(t *testing.T) {
	d := loadFixture(t)

	el, ok := d.Resolve("#app")
	if !ok {
		t.Fatal("Resolve missed")
	}
	if _, ok := el.Bounds(); ok {
		t.Error("bounds available before geometry reported")
	}

	d.UpdateGeometry(map[int]Rect{
		el.Index(): {X: 10, Y: 20, Width: 300, Height: 400},
	})

	r, ok := el.Bounds()
	if !ok {
		t.Fatal("bounds missing after geometry update")
	}
	if r.X != 10 || r.Y != 20 || r.Width != 300 || r.Height != 400 {
		t.Errorf("bounds = %+v", r)
	}

	// Reload discards geometry with the generation.
	if err := d.LoadSnapshot(fixture); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	el2, _ := d.Resolve("#app")
	if _, ok := el2.Bounds(); ok {
		t.Error("geometry survived snapshot reload")
	}
}

func TestElementFromPoint(t *testing.T) {
	d := loadFixture(t)

	outer, _ := d.Resolve("#app")
	inner, _ := d.Resolve("main > p:nth-of-type(1)")

	d.UpdateGeometry(map[int]Rect{
		outer.Index(): {X: 0, Y: 0, Width: 1000, Height: 1000},
		inner.Index(): {X: 100, Y: 100, Width: 200, Height: 50},
	})

	hit, ok := d.ElementFromPoint(150, 120)
	if !ok {
		t.Fatal("no element at point")
	}
	if hit.Index() != inner.Index() {
		t.Errorf("hit index %d, want innermost %d", hit.Index(), inner.Index())
	}

	hit, ok = d.ElementFromPoint(900, 900)
	if !ok || hit.Index() != outer.Index() {
		t.Errorf("expected outer element at uncovered point")
	}

	if _, ok := d.ElementFromPoint(5000, 5000); ok {
		t.Error("hit outside all rects")
	}
}

func TestScrollAndViewport(t *testing.T) {
	d := loadFixture(t)

	d.SetScroll(420.5)
	if d.ScrollY() != 420.5 {
		t.Errorf("ScrollY = %v", d.ScrollY())
	}

	d.SetViewport(Size{Width: 1280, Height: 720})
	if v := d.Viewport(); v.Width != 1280 || v.Height != 720 {
		t.Errorf("Viewport = %+v", v)
	}
}
