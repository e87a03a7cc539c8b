package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/canfeed/backend/internal/interceptor"
	"github.com/canfeed/backend/internal/logging"
	"github.com/canfeed/backend/internal/monitoring"
	"github.com/canfeed/backend/internal/upstream"
)

// forwardedRequestHeaders is the allow-list of inbound headers relayed
// upstream. Everything else (embedding-origin referer, sec-fetch-*
// metadata) would reveal the proxy or trip anti-bot checks.
var forwardedRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"Cache-Control",
	"Pragma",
	"Sec-Ch-Ua",
	"Sec-Ch-Ua-Mobile",
	"Sec-Ch-Ua-Platform",
	"User-Agent",
	"Cookie",
}

// relayedResponseHeaders is the pass-list of upstream headers relayed
// to the client. Framing and security-policy headers are deliberately
// absent: relaying them would block rendering inside the workspace.
var relayedResponseHeaders = []string{
	"Content-Type",
	"Cache-Control",
	"Last-Modified",
	"Etag",
	"Set-Cookie",
}

// Request is one inbound proxy request after route-level validation.
type Request struct {
	Method   string
	Target   *url.URL
	Header   http.Header
	Body     []byte
	ClientIP string
}

// Response is the rewritten result relayed to the client.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Pipeline fetches a target resource and rewrites it according to its
// content class: HTML is reference-rewritten and instrumented, CSS is
// reference-rewritten, scripts are relayed or substituted, everything
// else passes through.
type Pipeline struct {
	client         *upstream.Client
	rewriter       *Rewriter
	interceptor    *interceptor.Generator
	patchHostnames []string
	maxBodyBytes   int64
	logger         *logging.Logger
	metrics        *monitoring.Metrics
}

// NewPipeline assembles the fetch pipeline.
func NewPipeline(client *upstream.Client, rewriter *Rewriter, gen *interceptor.Generator, patchHostnames []string, maxBodyBytes int64, logger *logging.Logger, metrics *monitoring.Metrics) *Pipeline {
	return &Pipeline{
		client:         client,
		rewriter:       rewriter,
		interceptor:    gen,
		patchHostnames: patchHostnames,
		maxBodyBytes:   maxBodyBytes,
		logger:         logger,
		metrics:        metrics,
	}
}

// Handle runs one request through the pipeline.
func (p *Pipeline) Handle(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.client.Fetch(ctx, req.Method, req.Target.String(), p.upstreamHeaders(req), req.Body)
	if err != nil {
		p.countFetch("error")
		return nil, fmt.Errorf("upstream fetch failed: %w", err)
	}
	p.countFetch("ok")

	status := resp.StatusCode()
	header := p.relayHeaders(resp.Header())

	// These statuses carry no body by definition.
	if status == http.StatusNoContent || status == http.StatusResetContent || status == http.StatusNotModified {
		return &Response{Status: status, Header: header, Body: nil}, nil
	}

	body, err := p.decodeBody(resp.Body(), resp.Header().Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(body).String()
		header.Set("Content-Type", contentType)
	}

	switch {
	case looksLikeScript(req.Target):
		p.countRewrite("script")
		return p.handleScript(req.Target, status, contentType, header, body), nil

	case strings.Contains(contentType, "text/html"):
		p.countRewrite("html")
		return p.handleHTML(req.Target, status, header, body)

	case strings.Contains(contentType, "text/css"):
		p.countRewrite("css")
		body = []byte(p.rewriter.RewriteCSS(string(body), req.Target))
		return &Response{Status: status, Header: header, Body: body}, nil

	default:
		p.countRewrite("passthrough")
		return &Response{Status: status, Header: header, Body: body}, nil
	}
}

func (p *Pipeline) countFetch(outcome string) {
	if p.metrics != nil {
		p.metrics.ProxyFetches.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) countRewrite(class string) {
	if p.metrics != nil {
		p.metrics.ProxyRewrites.WithLabelValues(class).Inc()
	}
}

// handleScript relays a script body, substituting a logging stub when
// upstream answered with an error or an HTML page (typically a custom
// 404). Scripts always go out with 200: a non-2xx status would make the
// browser refuse to execute an otherwise usable body.
func (p *Pipeline) handleScript(target *url.URL, status int, contentType string, header http.Header, body []byte) *Response {
	if status >= http.StatusBadRequest || strings.Contains(contentType, "text/html") {
		p.logger.Warn("substituting error script",
			zap.String("url", target.String()),
			zap.Int("upstream_status", status))
		if p.metrics != nil {
			p.metrics.ScriptSubstitute.Inc()
		}
		body = []byte(errorScriptBody(target.String(), status))
	} else if needsHostnamePatch(target.Hostname(), p.patchHostnames) {
		body = []byte(patchHostnameRefs(string(body), target.Hostname()))
	}

	header.Set("Content-Type", "application/javascript; charset=utf-8")
	return &Response{Status: http.StatusOK, Header: header, Body: body}
}

func (p *Pipeline) handleHTML(target *url.URL, status int, header http.Header, body []byte) (*Response, error) {
	script, err := p.interceptor.Render(interceptor.Params{
		TargetURL:    target.String(),
		TargetOrigin: target.Scheme + "://" + target.Host,
	})
	if err != nil {
		return nil, err
	}

	page, err := p.rewriter.RewriteHTML(body, target, script)
	if err != nil {
		return nil, err
	}

	header.Set("Content-Type", "text/html; charset=utf-8")
	return &Response{Status: status, Header: header, Body: []byte(page.HTML)}, nil
}

func (p *Pipeline) upstreamHeaders(req Request) map[string]string {
	headers := make(map[string]string, len(forwardedRequestHeaders)+3)
	for _, name := range forwardedRequestHeaders {
		if v := req.Header.Get(name); v != "" {
			headers[name] = v
		}
	}

	// The target must see itself as the requester.
	targetOrigin := req.Target.Scheme + "://" + req.Target.Host
	headers["Referer"] = targetOrigin + "/"
	headers["Origin"] = targetOrigin
	if req.ClientIP != "" {
		headers["X-Forwarded-For"] = req.ClientIP
	}

	return headers
}

func (p *Pipeline) relayHeaders(upstream http.Header) http.Header {
	header := make(http.Header)
	for _, name := range relayedResponseHeaders {
		for _, v := range upstream.Values(name) {
			header.Add(name, v)
		}
	}

	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "*")

	return header
}

// decodeBody decompresses a gzip body that survived transport-level
// decoding (some origins send gzip regardless of Accept-Encoding) and
// enforces the configured size cap.
func (p *Pipeline) decodeBody(body []byte, encoding string) ([]byte, error) {
	if strings.Contains(strings.ToLower(encoding), "gzip") && len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to decode gzip body: %w", err)
		}
		defer reader.Close()

		decoded, err := io.ReadAll(io.LimitReader(reader, p.maxBodyBytes+1))
		if err != nil {
			return nil, fmt.Errorf("failed to decode gzip body: %w", err)
		}
		body = decoded
	}

	if p.maxBodyBytes > 0 && int64(len(body)) > p.maxBodyBytes {
		return nil, fmt.Errorf("upstream body exceeds %d bytes", p.maxBodyBytes)
	}

	return body, nil
}
