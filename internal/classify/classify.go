// Package classify maps intercepted requests to a resource category.
package classify

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Category is the caching bucket a request falls into
type Category int

const (
	// Bypass marks non-GET requests; they are never intercepted
	Bypass Category = iota
	// Ignore marks cross-origin, non-media requests; they are never intercepted
	Ignore
	MediaContent
	StaticAsset
	APIRequest
	PageRequest
)

func (c Category) String() string {
	switch c {
	case Bypass:
		return "bypass"
	case Ignore:
		return "ignore"
	case MediaContent:
		return "media"
	case StaticAsset:
		return "static"
	case APIRequest:
		return "api"
	case PageRequest:
		return "page"
	default:
		return "unknown"
	}
}

// Intercepted reports whether requests of this category go through a strategy
func (c Category) Intercepted() bool {
	return c != Bypass && c != Ignore
}

// Rules holds the matching tables
type Rules struct {
	MediaExtensions  []string
	MediaMarkers     []string
	StaticExtensions []string
	StaticPrefix     string
	ManifestPath     string
	APIPrefix        string
	BackendMarker    string
}

// DefaultRules returns the built-in tables
func DefaultRules() Rules {
	return Rules{
		MediaExtensions: []string{
			".mp4", ".webm", ".mkv", ".mov", ".m4v",
			".mp3", ".m4a", ".aac", ".ogg", ".oga", ".wav", ".flac",
			".m3u8", ".mpd", ".ts", ".m4s",
		},
		MediaMarkers: []string{"/stream/", "/media/", "stream=", "type=video", "type=audio"},
		StaticExtensions: []string{
			".js", ".mjs", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg",
			".webp", ".avif", ".ico", ".woff", ".woff2", ".ttf", ".otf", ".eot",
		},
		StaticPrefix:  "/static/",
		ManifestPath:  "/manifest.json",
		APIPrefix:     "/api/",
		BackendMarker: "supabase",
	}
}

// Classifier applies Rules relative to the origin the layer serves
type Classifier struct {
	rules   Rules
	serving *url.URL
}

// New creates a classifier for requests served from serving
func New(serving *url.URL, rules Rules) *Classifier {
	return &Classifier{rules: rules, serving: serving}
}

// Classify returns the category for a request with the given method and
// absolute URL. The order of checks is fixed: media is tested before static
// and API so a same-origin API path that streams media is treated as media.
func (c *Classifier) Classify(method string, u *url.URL) Category {
	if !strings.EqualFold(method, http.MethodGet) {
		return Bypass
	}

	media := c.isMedia(u)
	if !sameOrigin(u, c.serving) && !media {
		return Ignore
	}
	if media {
		return MediaContent
	}
	if c.isStatic(u) {
		return StaticAsset
	}
	if c.isAPI(u) {
		return APIRequest
	}
	return PageRequest
}

// ClassifyRequest is Classify over an *http.Request with an absolute URL
func (c *Classifier) ClassifyRequest(req *http.Request) Category {
	return c.Classify(req.Method, req.URL)
}

func (c *Classifier) isMedia(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	if hasExtension(p, c.rules.MediaExtensions) {
		return true
	}
	q := strings.ToLower(u.RawQuery)
	for _, marker := range c.rules.MediaMarkers {
		if strings.Contains(p, marker) || strings.Contains(q, marker) {
			return true
		}
	}
	return false
}

func (c *Classifier) isStatic(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	if hasExtension(p, c.rules.StaticExtensions) {
		return true
	}
	if c.rules.StaticPrefix != "" && strings.HasPrefix(p, c.rules.StaticPrefix) {
		return true
	}
	return c.rules.ManifestPath != "" && u.Path == c.rules.ManifestPath
}

func (c *Classifier) isAPI(u *url.URL) bool {
	if c.rules.APIPrefix != "" && strings.HasPrefix(u.Path, c.rules.APIPrefix) {
		return true
	}
	if c.rules.BackendMarker != "" && strings.Contains(strings.ToLower(u.Host+u.Path), c.rules.BackendMarker) {
		return true
	}
	// Cross-origin requests were filtered out earlier unless they were media,
	// so this only catches same-origin URLs whose hostname spelling differs.
	return !strings.EqualFold(u.Hostname(), c.serving.Hostname())
}

func hasExtension(p string, exts []string) bool {
	ext := path.Ext(p)
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		portOf(a) == portOf(b)
}

func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}
