package interceptor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canfeed/backend/internal/jsruntime"
)

const proxyPrefix = "http://localhost:8000/api/proxy?url="

// pageStubs builds a richer page environment than the install-time
// stubs: native surfaces record what the patched script hands them, and
// a small URL implementation stands in for the browser's (goja has
// none).
const pageStubs = `
function __parseURL(url) {
  return /^([a-zA-Z][a-zA-Z0-9+.\-]*):\/\/([^\/?#]*)([^?#]*)(\?[^#]*)?(#.*)?$/.exec(url);
}
function URL(url, base) {
  url = String(url);
  var m = __parseURL(url);
  if (!m) {
    if (base === undefined || base === null) throw new TypeError('invalid URL: ' + url);
    var b = base instanceof URL ? base : new URL(String(base));
    var resolved;
    if (url.indexOf('//') === 0) {
      resolved = b.protocol + url;
    } else if (url.charAt(0) === '/') {
      resolved = b.origin + url;
    } else if (url.charAt(0) === '?') {
      resolved = b.origin + b.pathname + url;
    } else if (url.charAt(0) === '#') {
      resolved = b.origin + b.pathname + b.search + url;
    } else {
      var dir = b.pathname.slice(0, b.pathname.lastIndexOf('/') + 1);
      resolved = b.origin + dir + url;
    }
    m = __parseURL(resolved);
    if (!m) throw new TypeError('invalid URL: ' + url);
  }
  this.protocol = m[1].toLowerCase() + ':';
  this.host = m[2];
  this.origin = this.protocol + '//' + m[2];
  this.pathname = m[3] === '' ? '/' : m[3];
  this.search = m[4] || '';
  this.hash = m[5] || '';
  this.href = this.origin + this.pathname + this.search + this.hash;
  var search = this.search;
  this.searchParams = {
    get: function(key) {
      var pairs = search.replace(/^\?/, '').split('&');
      for (var i = 0; i < pairs.length; i++) {
        var eq = pairs[i].indexOf('=');
        if (eq < 0) continue;
        if (decodeURIComponent(pairs[i].slice(0, eq)) === key) {
          return decodeURIComponent(pairs[i].slice(eq + 1));
        }
      }
      return null;
    }
  };
}

var __posted = [];
var __historyCalls = [];
var __fetched = [];
var __xhrURLs = [];
var __beacons = [];
var __fonts = [];
var __winHandlers = {};
var __docHandlers = {};

var window = this;
window.addEventListener = function(type, fn) { __winHandlers[type] = fn; };
window.parent = { postMessage: function(msg) { __posted.push(msg); } };
var location = { href: 'http://localhost:8000/api/proxy?url=https%3A%2F%2Fsite.com%2Fapp' };
var history = {
  pushState: function(state, title, url) { __historyCalls.push(String(url)); },
  replaceState: function(state, title, url) { __historyCalls.push(String(url)); }
};
var document = { addEventListener: function(type, fn) { __docHandlers[type] = fn; } };
var navigator = {
  sendBeacon: function(url) { __beacons.push(String(url)); return true; },
  serviceWorker: { register: function() {} }
};
function Element() {}
Element.prototype.setAttribute = function(name, value) {
  this['attr_' + String(name).toLowerCase()] = String(value);
};
function HTMLScriptElement() {}
Object.defineProperty(HTMLScriptElement.prototype, 'src', {
  get: function() { return this._src || ''; },
  set: function(v) { this._src = String(v); },
  configurable: true
});
function HTMLLinkElement() {}
Object.defineProperty(HTMLLinkElement.prototype, 'href', {
  get: function() { return this._href || ''; },
  set: function(v) { this._href = String(v); },
  configurable: true
});
function XMLHttpRequest() {}
XMLHttpRequest.prototype.open = function(method, url) { __xhrURLs.push(String(url)); };
window.fetch = function(input) {
  __fetched.push(typeof input === 'string' ? input : String(input.url));
};
window.FontFace = function(family, source) { __fonts.push(String(source)); };
`

func newPageRuntime(t *testing.T) *jsruntime.Runtime {
	t.Helper()
	script, err := testGenerator(t).Render(Params{
		TargetURL:    "https://site.com/app",
		TargetOrigin: "https://site.com",
	})
	require.NoError(t, err)

	rt := jsruntime.New(2 * time.Second)
	_, err = rt.Run("page.js", pageStubs)
	require.NoError(t, err)
	_, err = rt.Run("interceptor.js", script)
	require.NoError(t, err)
	return rt
}

func runJS(t *testing.T, rt *jsruntime.Runtime, src string) string {
	t.Helper()
	val, err := rt.Run("eval.js", src)
	require.NoError(t, err)
	return val.String()
}

func TestHistoryPatchProxiesRouteChanges(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `history.pushState({}, '', '/products/42');`)
	runJS(t, rt, `history.replaceState({}, '', '/products/43');`)

	calls := runJS(t, rt, `__historyCalls.join(' ')`)
	assert.Equal(t,
		proxyPrefix+"https%3A%2F%2Fsite.com%2Fproducts%2F42 "+
			proxyPrefix+"https%3A%2F%2Fsite.com%2Fproducts%2F43",
		calls)

	// Route changes stay in-frame; only link clicks notify the host.
	assert.Equal(t, "0", runJS(t, rt, `String(__posted.length)`))
}

func TestHistoryPatchKeepsNullURL(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `history.pushState({state: 1}, '');`)
	assert.Equal(t, "undefined", runJS(t, rt, `__historyCalls[0]`))
}

func TestServiceWorkerRegistrationSettles(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `
		var __sw = 'pending';
		navigator.serviceWorker.register('/sw.js').then(function(reg) {
			__sw = reg && reg.active ? 'active' : 'settled';
		});`)

	assert.Equal(t, "active", runJS(t, rt, `__sw`))
}

func TestFetchRewritesRequests(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `
		window.fetch('/api/data');
		window.fetch('https://cdn.com/lib.js');
		window.fetch(__fetched[1]);`)

	assert.Equal(t, proxyPrefix+"https%3A%2F%2Fsite.com%2Fapi%2Fdata",
		runJS(t, rt, `__fetched[0]`))
	assert.Equal(t, proxyPrefix+"https%3A%2F%2Fcdn.com%2Flib.js",
		runJS(t, rt, `__fetched[1]`))
	// Re-fetching an already proxied URL never nests.
	assert.Equal(t, proxyPrefix+"https%3A%2F%2Fcdn.com%2Flib.js",
		runJS(t, rt, `__fetched[2]`))
}

func TestFetchDistinguishesOwnOriginPaths(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `
		window.fetch('http://localhost:8000/_next/static/chunk.js');
		window.fetch('http://localhost:8000/products');`)

	// Service asset paths pass through untouched.
	assert.Equal(t, "http://localhost:8000/_next/static/chunk.js",
		runJS(t, rt, `__fetched[0]`))
	// Anything else on this origin is the target's path leaking through
	// and is rebased onto the target before proxying.
	assert.Equal(t, proxyPrefix+"https%3A%2F%2Fsite.com%2Fproducts",
		runJS(t, rt, `__fetched[1]`))
}

func TestXHROpenRewrites(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `
		var x = new XMLHttpRequest();
		x.open('GET', 'https://tracker.com/pixel.js');`)

	assert.Equal(t, proxyPrefix+"https%3A%2F%2Ftracker.com%2Fpixel.js",
		runJS(t, rt, `__xhrURLs[0]`))
}

func TestClickInterceptionPostsNavigate(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `
		var prevented = 0;
		function click(href) {
			__docHandlers['click']({
				target: { closest: function() {
					return href === null ? null : { getAttribute: function() { return href; } };
				} },
				preventDefault: function() { prevented++; },
				stopPropagation: function() {}
			});
		}
		click('/about');
		click('#top');
		click('mailto:a@b.c');
		click(null);`)

	assert.Equal(t, "1", runJS(t, rt, `String(__posted.length)`))
	assert.Equal(t, "1", runJS(t, rt, `String(prevented)`))
	assert.Equal(t, "NAVIGATE https://site.com/about",
		runJS(t, rt, `__posted[0].type + ' ' + __posted[0].url`))
}

func TestClickOnProxiedLinkReportsInnerURL(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `
		__docHandlers['click']({
			target: { closest: function() {
				return { getAttribute: function() {
					return '`+proxyPrefix+`https%3A%2F%2Fsite.com%2Fpricing';
				} };
			} },
			preventDefault: function() {},
			stopPropagation: function() {}
		});`)

	assert.Equal(t, "https://site.com/pricing", runJS(t, rt, `__posted[0].url`))
}

func TestScriptAndLinkPropertyMasking(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `
		var s = new HTMLScriptElement();
		s.src = '/bundle.js';
		var l = new HTMLLinkElement();
		l.href = '/theme.css';`)

	// Stored proxied, read back as the page-visible URL.
	assert.Equal(t, proxyPrefix+"https%3A%2F%2Fsite.com%2Fbundle.js",
		runJS(t, rt, `s._src`))
	assert.Equal(t, "https://site.com/bundle.js", runJS(t, rt, `s.src`))
	assert.Equal(t, proxyPrefix+"https%3A%2F%2Fsite.com%2Ftheme.css",
		runJS(t, rt, `l._href`))
	assert.Equal(t, "https://site.com/theme.css", runJS(t, rt, `l.href`))
}

func TestSetAttributeRewritesScriptSources(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `
		var el = new Element();
		el.tagName = 'SCRIPT';
		el.setAttribute('src', '/x.js');
		var div = new Element();
		div.tagName = 'DIV';
		div.setAttribute('data-src', '/x.js');`)

	assert.Equal(t, proxyPrefix+"https%3A%2F%2Fsite.com%2Fx.js",
		runJS(t, rt, `el.attr_src`))
	assert.Equal(t, "/x.js", runJS(t, rt, `div['attr_data-src']`))
}

func TestBeaconAndFontFaceRewrites(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `
		navigator.sendBeacon('/metrics', 'payload');
		new window.FontFace('Inter', "url('/fonts/inter.woff2')");`)

	assert.Equal(t, proxyPrefix+"https%3A%2F%2Fsite.com%2Fmetrics",
		runJS(t, rt, `__beacons[0]`))
	assert.Contains(t, runJS(t, rt, `__fonts[0]`),
		"url=https%3A%2F%2Fsite.com%2Ffonts%2Finter.woff2")
}

func TestSubmitInterceptionForExternalForms(t *testing.T) {
	rt := newPageRuntime(t)

	runJS(t, rt, `
		var prevented = 0;
		__winHandlers['submit']({
			target: { action: 'https://site.com/search' },
			preventDefault: function() { prevented++; }
		});
		__winHandlers['submit']({
			target: { action: '`+proxyPrefix+`https%3A%2F%2Fsite.com%2Fsearch' },
			preventDefault: function() { prevented++; }
		});`)

	assert.Equal(t, "1", runJS(t, rt, `String(prevented)`))
	assert.Equal(t, "https://site.com/search", runJS(t, rt, `__posted[0].url`))
}
