package frontier

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var skippedExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".odt": {}, ".ods": {}, ".rtf": {}, ".csv": {},
	".zip": {}, ".rar": {}, ".gz": {}, ".tgz": {}, ".tar": {}, ".7z": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".ico": {},
	".bmp": {}, ".tif": {}, ".tiff": {}, ".heic": {},
	".mp3": {}, ".mp4": {}, ".m4a": {}, ".mov": {}, ".avi": {}, ".wmv": {}, ".webm": {}, ".wav": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {}, ".rss": {}, ".ics": {},
	".exe": {}, ".dmg": {}, ".apk": {},
}

var skippedPathPrefixes = []string{
	"/wp-admin", "/wp-login", "/wp-content/uploads", "/wp-json", "/xmlrpc.php", "/cdn-cgi/",
}

// siteKey returns the registrable domain used for same-site checks. Hosts
// without a public suffix (IPs, localhost) compare by bare host.
func siteKey(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if site, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return site
	}
	return host
}

// skipPath reports whether a link target is a document, asset or CMS
// endpoint that never carries page content.
func skipPath(p string) bool {
	lower := strings.ToLower(p)
	for _, prefix := range skippedPathPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	_, skip := skippedExtensions[path.Ext(lower)]
	return skip
}

// canonical returns a copy of u with scheme and host lower-cased, the default
// port and trailing slash removed, and the query sorted. The fragment is kept
// only when keepFragment is set.
func canonical(u *url.URL, keepFragment bool) *url.URL {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	host := strings.ToLower(c.Hostname())
	port := c.Port()
	if (c.Scheme == "http" && port == "80") || (c.Scheme == "https" && port == "443") {
		port = ""
	}
	c.Host = host
	if port != "" {
		c.Host = host + ":" + port
	}
	c.User = nil
	c.Path = strings.TrimRight(c.Path, "/")
	c.RawPath = ""
	if c.RawQuery != "" {
		c.RawQuery = c.Query().Encode()
	}
	if !keepFragment {
		c.Fragment = ""
		c.RawFragment = ""
	}
	return &c
}

// dedupKey identifies a candidate. It is the canonical form without the
// scheme and a leading "www.", so http, https and www variants of one page
// collapse into the first one seen.
func dedupKey(u *url.URL, keepFragment bool) string {
	c := canonical(u, keepFragment)
	c.Scheme = ""
	c.Host = strings.TrimPrefix(c.Host, "www.")
	return strings.TrimPrefix(c.String(), "//")
}
