// Package interceptor generates the script injected into every proxied
// HTML page. The script patches the page's network and navigation
// surfaces so that runtime-issued requests route back through the proxy
// and in-page navigation is reported to the host instead of happening.
package interceptor

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Params are the per-page values embedded into the script.
type Params struct {
	// TargetURL is the full URL of the proxied page.
	TargetURL string
	// TargetOrigin is scheme+host of the proxied page.
	TargetOrigin string
}

// Generator renders interceptor scripts for proxied pages.
type Generator struct {
	tmpl         *template.Template
	proxyOrigin  string
	endpoint     string
	internalExpr string
}

// New creates a generator minting scripts that proxy through
// proxyOrigin+endpoint. internalPrefixes are first path segments of
// platform-internal routes the script must leave alone. The template is
// rendered once with placeholder params and executed headlessly, so a
// broken embedded script fails construction instead of every
// subsequent page load.
func New(proxyOrigin, endpoint string, internalPrefixes []string) (*Generator, error) {
	tmpl, err := template.New("interceptor").Parse(scriptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse interceptor template: %w", err)
	}

	expr := "$^"
	if len(internalPrefixes) > 0 {
		quoted := make([]string, len(internalPrefixes))
		for i, p := range internalPrefixes {
			quoted[i] = regexpQuoteJS(p)
		}
		expr = `^\/(` + strings.Join(quoted, "|") + `)(\/|$)`
	}

	g := &Generator{
		tmpl:         tmpl,
		proxyOrigin:  strings.TrimSuffix(proxyOrigin, "/"),
		endpoint:     endpoint,
		internalExpr: expr,
	}

	rendered, err := g.Render(Params{TargetURL: "https://example.com/", TargetOrigin: "https://example.com"})
	if err != nil {
		return nil, err
	}
	if err := verify(rendered); err != nil {
		return nil, err
	}

	return g, nil
}

// Render produces the interceptor script for one page.
func (g *Generator) Render(p Params) (string, error) {
	var buf bytes.Buffer
	err := g.tmpl.Execute(&buf, map[string]string{
		"ProxyOrigin":  g.proxyOrigin,
		"Endpoint":     g.endpoint,
		"TargetURL":    p.TargetURL,
		"TargetOrigin": p.TargetOrigin,
		"InternalExpr": g.internalExpr,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render interceptor: %w", err)
	}
	return buf.String(), nil
}

// regexpQuoteJS escapes a literal for embedding in a JS regexp.
func regexpQuoteJS(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

const scriptTemplate = `(function() {
  'use strict';
  var PROXY_ORIGIN = "{{js .ProxyOrigin}}";
  var PROXY_ENDPOINT = "{{js .Endpoint}}";
  var TARGET_URL = "{{js .TargetURL}}";
  var TARGET_ORIGIN = "{{js .TargetOrigin}}";
  var INTERNAL_PATH = new RegExp("{{js .InternalExpr}}");
  var PROXY_PREFIX = PROXY_ORIGIN + PROXY_ENDPOINT + '?url=';

  function isProxied(url) {
    return typeof url === 'string' && url.indexOf(PROXY_ENDPOINT + '?url=') !== -1;
  }

  function toProxy(url) {
    if (url === null || url === undefined) return url;
    url = String(url);
    if (url === '' || url.charAt(0) === '#') return url;
    if (/^(data|blob|javascript|about|mailto|tel):/i.test(url)) return url;
    if (isProxied(url)) return url;
    var abs;
    try {
      abs = new URL(url, TARGET_URL);
    } catch (e) {
      return url;
    }
    if (abs.origin === PROXY_ORIGIN && INTERNAL_PATH.test(abs.pathname)) return url;
    if (abs.origin === PROXY_ORIGIN) {
      abs = new URL(abs.pathname + abs.search + abs.hash, TARGET_URL);
    }
    return PROXY_PREFIX + encodeURIComponent(abs.href);
  }

  function innerURL(url) {
    if (!isProxied(url)) return null;
    try {
      var q = new URL(String(url), PROXY_ORIGIN).searchParams.get('url');
      return q ? q : null;
    } catch (e) {
      return null;
    }
  }

  function reportNavigation(url) {
    var abs;
    try {
      abs = new URL(String(url), TARGET_URL).href;
    } catch (e) {
      return;
    }
    try {
      window.parent.postMessage({ type: 'NAVIGATE', url: abs }, '*');
    } catch (e) {}
  }

  // History: SPA route changes stay in-frame. The URL argument is
  // rewritten to its proxied form on this origin so the browser accepts
  // it as same-origin and later loads of that entry route back through
  // the proxy. No navigation is reported; only link clicks are.
  var pushState = history.pushState;
  var replaceState = history.replaceState;
  function proxiedHistoryURL(url) {
    try {
      return new URL(String(toProxy(url)), PROXY_ORIGIN).href;
    } catch (e) {
      return location.href;
    }
  }
  history.pushState = function(state, title, url) {
    if (url === null || url === undefined) {
      return pushState.call(history, state, title, url);
    }
    try {
      return pushState.call(history, state, title, proxiedHistoryURL(url));
    } catch (e) {
      return pushState.call(history, state, title, location.href);
    }
  };
  history.replaceState = function(state, title, url) {
    if (url === null || url === undefined) {
      return replaceState.call(history, state, title, url);
    }
    try {
      return replaceState.call(history, state, title, proxiedHistoryURL(url));
    } catch (e) {
      return replaceState.call(history, state, title, location.href);
    }
  };

  // Dynamically created scripts and stylesheets resolve against the
  // embedding origin unless pushed back through the proxy.
  function patchURLProperty(proto, prop) {
    var desc = Object.getOwnPropertyDescriptor(proto, prop);
    if (!desc || !desc.set) return;
    Object.defineProperty(proto, prop, {
      get: function() {
        var raw = desc.get.call(this);
        var inner = innerURL(raw);
        return inner !== null ? inner : raw;
      },
      set: function(value) {
        desc.set.call(this, toProxy(value));
      },
      configurable: true
    });
  }
  patchURLProperty(HTMLScriptElement.prototype, 'src');
  patchURLProperty(HTMLLinkElement.prototype, 'href');

  var setAttribute = Element.prototype.setAttribute;
  Element.prototype.setAttribute = function(name, value) {
    var tag = this.tagName;
    var lower = String(name).toLowerCase();
    if ((tag === 'SCRIPT' && lower === 'src') || (tag === 'LINK' && lower === 'href')) {
      value = toProxy(value);
    }
    return setAttribute.call(this, name, value);
  };

  var origFetch = window.fetch;
  window.fetch = function(input, init) {
    if (typeof input === 'string') {
      input = toProxy(input);
    } else if (input && typeof input.url === 'string') {
      input = new Request(toProxy(input.url), input);
    }
    return origFetch.call(window, input, init);
  };

  var xhrOpen = XMLHttpRequest.prototype.open;
  XMLHttpRequest.prototype.open = function(method, url) {
    var args = Array.prototype.slice.call(arguments);
    args[1] = toProxy(url);
    return xhrOpen.apply(this, args);
  };

  if (navigator.sendBeacon) {
    var sendBeacon = navigator.sendBeacon.bind(navigator);
    navigator.sendBeacon = function(url, data) {
      return sendBeacon(toProxy(url), data);
    };
  }

  if (window.FontFace) {
    var NativeFontFace = window.FontFace;
    window.FontFace = function(family, source, descriptors) {
      if (typeof source === 'string') {
        source = source.replace(/url\(\s*(['"]?)([^)'"]+)\1\s*\)/g, function(m, quote, ref) {
          return 'url(' + quote + toProxy(ref) + quote + ')';
        });
      }
      return new NativeFontFace(family, source, descriptors);
    };
    window.FontFace.prototype = NativeFontFace.prototype;
  }

  // Service workers would intercept proxied fetches with the original
  // site's logic and cannot work across origins anyway. Registration
  // resolves with an inert stub so pages awaiting it still load.
  if (navigator.serviceWorker) {
    navigator.serviceWorker.register = function() {
      return Promise.resolve({
        active: { state: 'activated' },
        scope: '/',
        update: function() { return Promise.resolve(); },
        unregister: function() { return Promise.resolve(true); }
      });
    };
  }

  // Capture-phase so the page's own handlers cannot swallow it first.
  document.addEventListener('click', function(event) {
    var anchor = event.target && event.target.closest ? event.target.closest('a[href]') : null;
    if (!anchor) return;
    var href = anchor.getAttribute('href');
    if (!href || href.charAt(0) === '#') return;
    if (/^(javascript|mailto|tel):/i.test(href)) return;
    event.preventDefault();
    event.stopPropagation();
    var inner = innerURL(href);
    reportNavigation(inner !== null ? inner : href);
  }, true);

  window.addEventListener('submit', function(event) {
    var form = event.target;
    if (!form || !form.action) return;
    var inner = innerURL(form.action);
    if (inner !== null) return;
    event.preventDefault();
    reportNavigation(form.action);
  }, true);
})();`
