package cache

import (
	"crypto/md5"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// KeyFor builds the normalized key for a request: method plus absolute URL
// with lower-cased scheme and host, sorted query parameters and no fragment.
// Every read and write goes through this function so keys never drift.
func KeyFor(method string, u *url.URL) string {
	return strings.ToUpper(method) + " " + NormalizeURL(u)
}

// KeyForRequest is KeyFor over an *http.Request
func KeyForRequest(req *http.Request) string {
	return KeyFor(req.Method, req.URL)
}

// KeyForPath builds the GET key for a path on the given origin
func KeyForPath(origin *url.URL, path string) string {
	u := *origin
	u.Path = path
	u.RawPath = ""
	u.RawQuery = ""
	return KeyFor(http.MethodGet, &u)
}

// NormalizeURL renders u in the canonical form used by cache keys
func NormalizeURL(u *url.URL) string {
	n := url.URL{
		Scheme:  strings.ToLower(u.Scheme),
		Host:    strings.ToLower(u.Host),
		Path:    u.Path,
		RawPath: u.RawPath,
	}
	if n.Path == "" {
		n.Path = "/"
	}
	if u.RawQuery != "" {
		// Values.Encode sorts by key
		n.RawQuery = u.Query().Encode()
	}
	return n.String()
}

// fileNameFor makes a key safe for use as a filename
func fileNameFor(key string) string {
	// For very long keys, use hash to avoid filesystem limits
	if len(key) > 200 {
		hash := md5.Sum([]byte(key))
		return fmt.Sprintf("hash_%x.json", hash)
	}

	unsafe := []string{"/", "\\", ":", "?", "&", "=", "#", "<", ">", "|", "*", "\"", " ", "%"}
	result := key
	for _, char := range unsafe {
		result = strings.ReplaceAll(result, char, "_")
	}

	// Sanitizing can collide; the hash suffix keeps distinct keys apart
	hash := md5.Sum([]byte(key))
	return fmt.Sprintf("%s_%x.json", result, hash[:4])
}
