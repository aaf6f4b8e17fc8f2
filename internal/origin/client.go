// Package origin talks to the upstream server the cache sits in front of.
package origin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Fetcher performs one round trip to the network
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client sends requests addressed to the public origin to the upstream
// server; requests for any other host go out unchanged.
type Client struct {
	http     *http.Client
	public   *url.URL
	upstream *url.URL
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithPublicOrigin sets the origin clients address; requests to it are
// rewritten to the upstream
func WithPublicOrigin(u *url.URL) Option {
	return func(c *Client) { c.public = u }
}

func New(upstream string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(upstream) == "" {
		return nil, errors.New("upstream URL required")
	}
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream URL must be absolute: %q", upstream)
	}
	c := &Client{
		http:     http.DefaultClient,
		upstream: u,
		public:   u,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Upstream returns the upstream base URL
func (c *Client) Upstream() *url.URL {
	u := *c.upstream
	return &u
}

// Fetch implements Fetcher. A non-nil error means the network round trip
// itself failed; any HTTP status is returned as a response.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	out.URL = c.resolve(req.URL)
	out.Host = out.URL.Host
	return c.http.Do(out)
}

// Get fetches an absolute URL or a path on the public origin
func (c *Client) Get(ctx context.Context, target string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, req)
}

// Send issues method against target with a JSON body, used to replay queued
// mutations. body is sent verbatim.
func (c *Client) Send(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if len(body) > 0 {
		rdr = bytes.NewReader(body)
	}
	req, err := c.NewRequest(ctx, method, target, rdr)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Fetch(ctx, req)
}

// NewRequest builds a request for target, which may be an absolute URL or a
// path on the public origin
func (c *Client) NewRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	u, err := c.PublicURL(target)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

// PublicURL resolves target against the public origin
func (c *Client) PublicURL(target string) (*url.URL, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target %q: %w", target, err)
	}
	return c.public.ResolveReference(ref), nil
}

func (c *Client) resolve(u *url.URL) *url.URL {
	if u.IsAbs() && !strings.EqualFold(u.Host, c.public.Host) {
		cp := *u
		return &cp
	}
	out := *c.upstream
	out.Path = strings.TrimSuffix(c.upstream.Path, "/") + u.Path
	if u.RawPath != "" {
		out.RawPath = strings.TrimSuffix(c.upstream.EscapedPath(), "/") + u.RawPath
	}
	out.RawQuery = u.RawQuery
	return &out
}

// OK reports whether status is in the 2xx range
func OK(status int) bool {
	return status >= 200 && status < 300
}

// Drain discards and closes a response body
func Drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
