package proxy

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var scriptPathPattern = regexp.MustCompile(`\.(js|mjs)$`)

// looksLikeScript reports whether the requested resource is a script
// by its path extension.
func looksLikeScript(u *url.URL) bool {
	return scriptPathPattern.MatchString(u.Path)
}

// errorScriptBody synthesizes a minimal valid script for a script
// request whose upstream returned an error page. Relaying the error
// body would make the browser throw a MIME or parse error and halt
// page execution; a logging stub degrades gracefully instead.
func errorScriptBody(target string, status int) string {
	return fmt.Sprintf("console.error(%s);", strconv.Quote(
		fmt.Sprintf("[canfeed proxy] script error: %s (%d)", target, status)))
}

// needsHostnamePatch reports whether the script host belongs to a
// vendor known to branch on location.hostname. The list is
// configuration data, not code.
func needsHostnamePatch(host string, patchHostnames []string) bool {
	host = strings.ToLower(host)
	for _, vendor := range patchHostnames {
		vendor = strings.ToLower(vendor)
		if host == vendor || strings.HasSuffix(host, "."+vendor) {
			return true
		}
	}
	return false
}

// patchHostnameRefs substitutes reads of the live hostname with the
// target's hostname. These vendor scripts observe the proxy's own
// hostname otherwise and misbehave.
func patchHostnameRefs(js, targetHostname string) string {
	quoted := strconv.Quote(targetHostname)
	js = strings.ReplaceAll(js, "window.location.hostname", quoted)
	js = strings.ReplaceAll(js, "location.hostname", quoted)
	return js
}
