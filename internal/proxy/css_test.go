package proxy

import (
	"net/url"
	"strings"
	"testing"
)

func TestRewriteCSSResolvesAgainstSheet(t *testing.T) {
	r := testRewriter()
	sheet := mustParse(t, "https://site.com/css/main.css")

	css := `body { background: url(../img/bg.png); }`
	got := r.RewriteCSS(css, sheet)

	wantInner := url.QueryEscape("https://site.com/img/bg.png")
	if !strings.Contains(got, wantInner) {
		t.Errorf("rewritten CSS does not reference sheet-relative URL:\n%s", got)
	}
	if !strings.Contains(got, "http://localhost:8000/api/proxy?url=") {
		t.Errorf("reference not proxied:\n%s", got)
	}
}

func TestRewriteCSSQuoting(t *testing.T) {
	r := testRewriter()
	sheet := mustParse(t, "https://site.com/a.css")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "double quoted",
			in:   `@font-face { src: url("font.woff2"); }`,
			want: `url("http://localhost:8000/api/proxy?url=` + url.QueryEscape("https://site.com/font.woff2") + `")`,
		},
		{
			name: "single quoted",
			in:   `div { background: url('x.png'); }`,
			want: `url('http://localhost:8000/api/proxy?url=` + url.QueryEscape("https://site.com/x.png") + `')`,
		},
		{
			name: "unquoted",
			in:   `div { background: url(x.png); }`,
			want: `url(http://localhost:8000/api/proxy?url=` + url.QueryEscape("https://site.com/x.png") + `)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.RewriteCSS(tt.in, sheet)
			if !strings.Contains(got, tt.want) {
				t.Errorf("RewriteCSS(%q):\n got %q\nwant substring %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRewriteCSSLeavesDataURLs(t *testing.T) {
	r := testRewriter()
	sheet := mustParse(t, "https://site.com/a.css")

	css := `div { background: url(data:image/png;base64,AAAA); }`
	if got := r.RewriteCSS(css, sheet); got != css {
		t.Errorf("data URL was rewritten:\n%s", got)
	}
}

func TestRewriteCSSIdempotent(t *testing.T) {
	r := testRewriter()
	sheet := mustParse(t, "https://site.com/a.css")

	once := r.RewriteCSS(`div { background: url(x.png); }`, sheet)
	twice := r.RewriteCSS(once, sheet)
	if once != twice {
		t.Errorf("double rewrite changed stylesheet:\n once: %s\ntwice: %s", once, twice)
	}
}
