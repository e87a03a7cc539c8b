package proxy

import (
	"net/url"
	"strings"
	"testing"
)

const sentinelScript = "/* interceptor */"

func rewritePage(t *testing.T, markup, target string) string {
	t.Helper()
	r := testRewriter()
	page, err := r.RewriteHTML([]byte(markup), mustParse(t, target), sentinelScript)
	if err != nil {
		t.Fatalf("RewriteHTML: %v", err)
	}
	return page.HTML
}

func TestRewriteHTMLScriptsAndStylesheetsProxied(t *testing.T) {
	markup := `<html><head>
		<link rel="stylesheet" href="/css/main.css">
		<script src="app.js"></script>
	</head><body></body></html>`
	got := rewritePage(t, markup, "https://site.com/app/page")

	wantCSS := "/api/proxy?url=" + url.QueryEscape("https://site.com/css/main.css")
	wantJS := "/api/proxy?url=" + url.QueryEscape("https://site.com/app/app.js")
	if !strings.Contains(got, wantCSS) {
		t.Errorf("stylesheet not proxied:\n%s", got)
	}
	if !strings.Contains(got, wantJS) {
		t.Errorf("script not proxied:\n%s", got)
	}
}

func TestRewriteHTMLMediaOffloaded(t *testing.T) {
	markup := `<html><head></head><body>
		<img src="/img/a.png">
		<iframe src="/embed"></iframe>
	</body></html>`
	got := rewritePage(t, markup, "https://site.com/page")

	if !strings.Contains(got, `src="https://site.com/img/a.png"`) {
		t.Errorf("img not offloaded to absolute URL:\n%s", got)
	}
	if strings.Contains(got, "api/proxy?url="+url.QueryEscape("https://site.com/img/a.png")) {
		t.Errorf("img routed through proxy:\n%s", got)
	}
	if !strings.Contains(got, `referrerpolicy="no-referrer"`) {
		t.Errorf("img missing referrerpolicy:\n%s", got)
	}
	if !strings.Contains(got, `src="https://site.com/embed"`) {
		t.Errorf("iframe not offloaded:\n%s", got)
	}
}

func TestRewriteHTMLSrcset(t *testing.T) {
	markup := `<html><body><img src="/a.png" srcset="/a-1x.png 1x, /a-2x.png 2x"></body></html>`
	got := rewritePage(t, markup, "https://site.com/page")

	if !strings.Contains(got, "https://site.com/a-1x.png 1x") ||
		!strings.Contains(got, "https://site.com/a-2x.png 2x") {
		t.Errorf("srcset descriptors not preserved:\n%s", got)
	}
}

func TestRewriteHTMLBaseTagPrecedence(t *testing.T) {
	markup := `<html><head><base href="/sub/"><link rel="stylesheet" href="style.css"></head><body></body></html>`
	got := rewritePage(t, markup, "https://site.com/app/page")

	want := url.QueryEscape("https://site.com/sub/style.css")
	if !strings.Contains(got, want) {
		t.Errorf("reference did not resolve against document base:\n%s", got)
	}
	if !strings.Contains(got, `<base href="https://site.com/sub/"`) {
		t.Errorf("fresh base tag missing:\n%s", got)
	}
	if strings.Contains(got, `<base href="/sub/"`) {
		t.Errorf("original base tag survived:\n%s", got)
	}
}

func TestRewriteHTMLStripsPolicyMetaTags(t *testing.T) {
	markup := `<html><head>
		<meta http-equiv="Content-Security-Policy" content="default-src 'self'">
		<meta http-equiv="X-Frame-Options" content="DENY">
		<meta charset="utf-8">
	</head><body></body></html>`
	got := rewritePage(t, markup, "https://site.com/")

	if strings.Contains(got, "Content-Security-Policy") {
		t.Errorf("CSP meta tag survived:\n%s", got)
	}
	if strings.Contains(got, "X-Frame-Options") {
		t.Errorf("X-Frame-Options meta tag survived:\n%s", got)
	}
	if !strings.Contains(got, `<meta charset="utf-8"`) {
		t.Errorf("unrelated meta tag removed:\n%s", got)
	}
}

func TestRewriteHTMLInjectsInterceptorFirst(t *testing.T) {
	markup := `<html><head><script src="/app.js"></script></head><body></body></html>`
	got := rewritePage(t, markup, "https://site.com/")

	headStart := strings.Index(got, "<head>")
	sentinel := strings.Index(got, sentinelScript)
	pageScript := strings.Index(got, "api/proxy?url=")
	if headStart == -1 || sentinel == -1 || pageScript == -1 {
		t.Fatalf("markers missing:\n%s", got)
	}
	if !(headStart < sentinel && sentinel < pageScript) {
		t.Errorf("interceptor not injected before page scripts:\n%s", got)
	}
}

func TestRewriteHTMLTitle(t *testing.T) {
	r := testRewriter()

	page, err := r.RewriteHTML([]byte(`<html><head><title> Docs </title></head><body></body></html>`),
		mustParse(t, "https://site.com/docs"), sentinelScript)
	if err != nil {
		t.Fatalf("RewriteHTML: %v", err)
	}
	if page.Title != "Docs" {
		t.Errorf("Title = %q, want %q", page.Title, "Docs")
	}

	page, err = r.RewriteHTML([]byte(`<html><head></head><body></body></html>`),
		mustParse(t, "https://site.com/docs"), sentinelScript)
	if err != nil {
		t.Fatalf("RewriteHTML: %v", err)
	}
	if page.Title != "site.com" {
		t.Errorf("fallback Title = %q, want host", page.Title)
	}
}

func TestRewriteHTMLIdempotent(t *testing.T) {
	markup := `<html><head><link rel="stylesheet" href="/css/a.css"><script src="/b.js"></script></head><body></body></html>`
	r := testRewriter()
	target := mustParse(t, "https://site.com/page")

	first, err := r.RewriteHTML([]byte(markup), target, sentinelScript)
	if err != nil {
		t.Fatalf("first rewrite: %v", err)
	}

	second, err := r.RewriteHTML([]byte(first.HTML), target, sentinelScript)
	if err != nil {
		t.Fatalf("second rewrite: %v", err)
	}

	if strings.Contains(second.HTML, url.QueryEscape("api/proxy?url=")) {
		t.Errorf("second rewrite nested proxy URLs:\n%s", second.HTML)
	}
}
