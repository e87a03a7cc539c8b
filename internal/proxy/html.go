package proxy

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// RewrittenPage is the result of rewriting one HTML document.
type RewrittenPage struct {
	HTML  string
	Title string
}

// mediaSelector lists elements whose sources are offloaded to absolute
// direct URLs. Media is not execution-critical and proxying it would
// double egress for no behavioral benefit.
const mediaSelector = "img[src], video[src], audio[src], source[src], track[src], object[data], embed[src], iframe[src]"

// RewriteHTML rewrites a fetched HTML document so that every nested
// resource reference either routes back through the proxy
// (scripts/stylesheets, which must look same-origin) or resolves
// absolutely against the target origin (media), then injects the
// interceptor script ahead of the page's own.
func (r *Rewriter) RewriteHTML(body []byte, target *url.URL, interceptorJS string) (*RewrittenPage, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	// Document-level framing directives would make the browser refuse
	// to render even though the HTTP headers were already stripped.
	doc.Find(`meta[http-equiv="Content-Security-Policy"]`).Remove()
	doc.Find(`meta[http-equiv="X-Frame-Options"]`).Remove()

	// The effective base must be resolved, and the original tag
	// removed, before any attribute rewriting: relative references
	// otherwise rewrite against the wrong origin.
	baseHref, _ := doc.Find("base[href]").First().Attr("href")
	doc.Find("base").Remove()
	ctx := r.NewContext(target, baseHref)

	doc.Find("head").PrependHtml(fmt.Sprintf(`<base href="%s">`, ctx.Base.String()))

	doc.Find("link[href], script[src]").Each(func(_ int, s *goquery.Selection) {
		attr := "href"
		if goquery.NodeName(s) == "script" {
			attr = "src"
		}
		val, _ := s.Attr(attr)
		if proxied, ok := r.Proxy(ctx, val); ok {
			s.SetAttr(attr, proxied)
		}
	})

	doc.Find(mediaSelector).Each(func(_ int, s *goquery.Selection) {
		attr := "src"
		if goquery.NodeName(s) == "object" {
			attr = "data"
		}
		val, _ := s.Attr(attr)
		if abs, ok := ctx.Absolute(val); ok {
			s.SetAttr(attr, abs)
			if goquery.NodeName(s) == "img" {
				// The real referrer would reveal the proxy.
				s.SetAttr("referrerpolicy", "no-referrer")
			}
		}
	})

	doc.Find("img[srcset], source[srcset]").Each(func(_ int, s *goquery.Selection) {
		val, _ := s.Attr("srcset")
		s.SetAttr("srcset", rewriteSrcset(ctx, val))
	})

	// First child of <head>: the patches must install before any of
	// the page's own scripts run.
	doc.Find("head").PrependHtml("<script>" + interceptorJS + "</script>")

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = target.Host
	}

	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render HTML: %w", err)
	}

	return &RewrittenPage{HTML: out, Title: title}, nil
}

// rewriteSrcset rewrites each srcset entry to an absolute URL,
// preserving its width or density descriptor.
func rewriteSrcset(ctx Context, srcset string) string {
	entries := strings.Split(srcset, ",")
	out := make([]string, 0, len(entries))

	for _, entry := range entries {
		fields := strings.Fields(strings.TrimSpace(entry))
		if len(fields) == 0 {
			continue
		}

		if abs, ok := ctx.Absolute(fields[0]); ok {
			fields[0] = abs
		}
		out = append(out, strings.Join(fields, " "))
	}

	return strings.Join(out, ", ")
}

// parseHTML loads a document with automatic charset detection, so
// non-UTF-8 pages survive rewriting intact.
func parseHTML(body []byte) (*goquery.Document, error) {
	detected := "utf-8"
	if result, err := chardet.NewTextDetector().DetectBest(body); err == nil && result != nil {
		detected = strings.ToLower(result.Charset)
	}

	reader, err := charset.NewReaderLabel(detected, bytes.NewReader(body))
	if err != nil {
		return goquery.NewDocumentFromReader(bytes.NewReader(body))
	}

	return goquery.NewDocumentFromReader(reader)
}
