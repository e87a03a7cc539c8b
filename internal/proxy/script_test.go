package proxy

import (
	"strings"
	"testing"
)

func TestLooksLikeScript(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://site.com/app.js", true},
		{"https://site.com/mod.mjs", true},
		{"https://site.com/app.js?v=2", true},
		{"https://site.com/app.json", false},
		{"https://site.com/js/", false},
		{"https://site.com/page", false},
	}

	for _, tt := range tests {
		u := mustParse(t, tt.raw)
		if got := looksLikeScript(u); got != tt.want {
			t.Errorf("looksLikeScript(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestErrorScriptBody(t *testing.T) {
	body := errorScriptBody("https://site.com/gone.js", 404)

	if !strings.HasPrefix(body, "console.error(") {
		t.Errorf("unexpected body: %s", body)
	}
	if !strings.Contains(body, "https://site.com/gone.js") || !strings.Contains(body, "404") {
		t.Errorf("body missing context: %s", body)
	}
	if strings.Contains(body, "<") {
		t.Errorf("body contains markup: %s", body)
	}
}

func TestNeedsHostnamePatch(t *testing.T) {
	vendors := []string{"cookiebot.com", "googletagmanager.com"}

	tests := []struct {
		host string
		want bool
	}{
		{"cookiebot.com", true},
		{"consent.cookiebot.com", true},
		{"www.googletagmanager.com", true},
		{"notcookiebot.com", false},
		{"cookiebot.com.evil.com", false},
		{"cdn.com", false},
	}

	for _, tt := range tests {
		if got := needsHostnamePatch(tt.host, vendors); got != tt.want {
			t.Errorf("needsHostnamePatch(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestPatchHostnameRefs(t *testing.T) {
	js := `var h = window.location.hostname; var g = location.hostname;`
	got := patchHostnameRefs(js, "site.com")

	if strings.Contains(got, "location.hostname") {
		t.Errorf("hostname read survived patching: %s", got)
	}
	if !strings.Contains(got, `"site.com"`) {
		t.Errorf("target hostname not substituted: %s", got)
	}
}
