package proxy

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Context carries the URL-resolution state for one rewritten response.
// It is derived once per response and every rewrite decision is a pure
// function of it plus the raw reference string.
type Context struct {
	Target       *url.URL
	Base         *url.URL
	TargetOrigin string
	ProxyOrigin  string
}

// Rewriter maps resource references onto either absolute direct URLs
// or proxied URLs that route back through the fetch pipeline.
type Rewriter struct {
	proxyOrigin   string
	endpoint      string
	internalGlobs []string
}

// NewRewriter creates a rewriter minting proxied URLs under
// proxyOrigin+endpoint. internalGlobs name platform-internal paths
// that must never be treated as target-site assets.
func NewRewriter(proxyOrigin, endpoint string, internalGlobs []string) *Rewriter {
	return &Rewriter{
		proxyOrigin:   strings.TrimSuffix(proxyOrigin, "/"),
		endpoint:      endpoint,
		internalGlobs: internalGlobs,
	}
}

// NewContext derives the rewrite context for a response fetched from
// target. baseHref is the href of an in-document <base> tag, if any;
// it resolves against the target URL to form the effective base.
func (r *Rewriter) NewContext(target *url.URL, baseHref string) Context {
	base := target
	if baseHref != "" {
		if ref, err := url.Parse(baseHref); err == nil {
			base = target.ResolveReference(ref)
		}
	}

	return Context{
		Target:       target,
		Base:         base,
		TargetOrigin: origin(target),
		ProxyOrigin:  r.proxyOrigin,
	}
}

// Endpoint returns the proxy route path.
func (r *Rewriter) Endpoint() string {
	return r.endpoint
}

// Absolute resolves ref against the context's base URL. Scheme-bound
// references that can never be fetched (data:, javascript:, mailto:,
// tel:, blob:, about:) and bare fragments yield ok=false.
func (ctx Context) Absolute(ref string) (string, bool) {
	if !rewritable(ref) {
		return "", false
	}

	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}

	return ctx.Base.ResolveReference(parsed).String(), true
}

// Proxy resolves ref against the base and mints a proxied URL for it.
// Rewriting an already-proxied URL returns it unchanged, so repeated
// rewriting can never nest proxy-of-proxy URLs.
func (r *Rewriter) Proxy(ctx Context, ref string) (string, bool) {
	if r.IsProxied(ref) {
		return ref, true
	}

	abs, ok := ctx.Absolute(ref)
	if !ok {
		return "", false
	}

	return r.mint(abs), true
}

func (r *Rewriter) mint(abs string) string {
	proxied := r.proxyOrigin + r.endpoint + "?url=" + url.QueryEscape(abs)
	// Only this service's own asset paths get the bypass marker. A
	// target site is free to serve /_next or /api paths of its own;
	// those must still be fetched from the target.
	if parsed, err := url.Parse(abs); err == nil && origin(parsed) == r.proxyOrigin && r.isInternalPath(parsed.Path) {
		proxied += "&__bypass=1"
	}
	return proxied
}

// IsProxied reports whether raw is already a proxied URL.
func (r *Rewriter) IsProxied(raw string) bool {
	_, ok := r.Unwrap(raw)
	return ok
}

// Unwrap extracts the inner target URL from a proxied URL.
func (r *Rewriter) Unwrap(raw string) (string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !strings.HasSuffix(strings.TrimSuffix(parsed.Path, "/"), strings.TrimSuffix(r.endpoint, "/")) {
		return "", false
	}

	inner := parsed.Query().Get("url")
	if inner == "" {
		return "", false
	}

	if parsed.IsAbs() && parsed.Scheme+"://"+parsed.Host != r.proxyOrigin {
		return "", false
	}

	return inner, true
}

// isInternalPath matches p against the configured platform-internal
// path globs.
func (r *Rewriter) isInternalPath(p string) bool {
	for _, glob := range r.internalGlobs {
		if ok, err := doublestar.Match(glob, p); err == nil && ok {
			return true
		}
	}
	return false
}

// InternalPathPrefixes returns the first path segment of each internal
// glob, for embedding into the interceptor's own-path check.
func (r *Rewriter) InternalPathPrefixes() []string {
	var out []string
	seen := make(map[string]bool)
	for _, glob := range r.internalGlobs {
		seg := strings.TrimPrefix(glob, "/")
		if i := strings.IndexAny(seg, "/*"); i >= 0 {
			seg = seg[:i]
		}
		if seg != "" && !seen[seg] {
			seen[seg] = true
			out = append(out, seg)
		}
	}
	return out
}

func origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func rewritable(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return false
	}

	lower := strings.ToLower(ref)
	for _, scheme := range []string{"data:", "javascript:", "mailto:", "tel:", "blob:", "about:", "vbscript:"} {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}
