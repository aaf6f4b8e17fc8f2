package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// FromCacheHeader marks responses that were served from a store
const FromCacheHeader = "X-From-Cache"

// EntryFromResponse buffers resp's body into a new Entry and replaces the
// body with a fresh reader over the same bytes, so the caller can keep using
// resp as the live response.
func EntryFromResponse(key string, resp *http.Response) (*Entry, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &Entry{
		Key:       key,
		Status:    resp.StatusCode,
		Header:    resp.Header.Clone(),
		Body:      body,
		SizeBytes: int64(len(body)),
		StoredAt:  time.Now().UTC(),
	}, nil
}

// Response rebuilds an *http.Response from the entry. Each call returns an
// independent body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(FromCacheHeader, "1")
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))

	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
