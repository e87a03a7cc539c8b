package interceptor

import (
	"fmt"
	"time"

	"github.com/canfeed/backend/internal/jsruntime"
)

// browserStubs fakes the browser surfaces the script patches at install
// time, so it can run headlessly.
const browserStubs = `
var window = this;
window.addEventListener = function() {};
window.parent = { postMessage: function() {} };
var location = { href: "https://example.com/" };
var history = {
  pushState: function() {},
  replaceState: function() {}
};
var document = { addEventListener: function() {} };
var navigator = {};
function Element() {}
Element.prototype.setAttribute = function() {};
function HTMLScriptElement() {}
Object.defineProperty(HTMLScriptElement.prototype, 'src', {
  get: function() { return this._src || ''; },
  set: function(v) { this._src = v; },
  configurable: true
});
function HTMLLinkElement() {}
Object.defineProperty(HTMLLinkElement.prototype, 'href', {
  get: function() { return this._href || ''; },
  set: function(v) { this._href = v; },
  configurable: true
});
function XMLHttpRequest() {}
XMLHttpRequest.prototype.open = function() {};
window.fetch = function() {};
`

// verify executes the rendered script in a headless runtime with
// stubbed browser globals. A script that throws while installing its
// patches would silently break every proxied page, so it fails
// construction instead.
func verify(script string) error {
	rt := jsruntime.New(2 * time.Second)
	if _, err := rt.Run("interceptor.js", browserStubs+"\n"+script); err != nil {
		return fmt.Errorf("interceptor script failed verification: %w", err)
	}
	return nil
}
