package proxy

import (
	"net/url"
	"regexp"
	"strings"
)

// cssURLPattern matches url(...) references with any quoting style.
var cssURLPattern = regexp.MustCompile(`(?i)url\(\s*([^)]*?)\s*\)`)

// RewriteCSS rewrites every url(...) reference in a stylesheet to a
// proxied URL. References resolve against the stylesheet's own URL,
// not the page that linked it; quoting style is preserved.
func (r *Rewriter) RewriteCSS(css string, sheetURL *url.URL) string {
	ctx := r.NewContext(sheetURL, "")

	return cssURLPattern.ReplaceAllStringFunc(css, func(match string) string {
		token := strings.TrimSpace(cssURLPattern.FindStringSubmatch(match)[1])

		quote := ""
		raw := token
		if len(token) >= 2 && (token[0] == '\'' || token[0] == '"') && token[len(token)-1] == token[0] {
			quote = string(token[0])
			raw = token[1 : len(token)-1]
		}

		if raw == "" || strings.HasPrefix(strings.ToLower(raw), "data:") {
			return match
		}

		proxied, ok := r.Proxy(ctx, raw)
		if !ok {
			return match
		}

		return "url(" + quote + proxied + quote + ")"
	})
}
