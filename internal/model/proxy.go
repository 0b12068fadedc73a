// Package model defines shared types for the proxy.
package model

import (
	"net/http"
	"strings"
	"time"
)

// Application is the per-client policy record, immutable after startup.
type Application struct {
	ID   string
	Name string
	Key  string

	// Timeout bounds each upstream fetch.
	Timeout time.Duration

	// Accept lists the media types a request must ask for. Empty means any.
	Accept []string

	// CacheTTL is the lifetime of stored responses. Zero disables caching.
	CacheTTL time.Duration
}

// CachingEnabled reports whether responses for this application are cached.
func (a *Application) CachingEnabled() bool {
	return a.CacheTTL > 0
}

// ProxyRequest is the per-call input derived from the inbound HTTP request.
type ProxyRequest struct {
	APIKey        string
	TargetURL     string
	RemoveHeaders bool
	Method        string
	Accept        string
	Header        http.Header
}

// ProxyResponse is what the handler writes back to the client.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	CacheHit   bool
}

// UpstreamResponse is a fully buffered upstream reply.
type UpstreamResponse struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// CachedResponse is the JSON document persisted in the cache store.
// Header names are lowercase.
type CachedResponse struct {
	Data       []byte              `json:"data"`
	Status     int                 `json:"status"`
	StatusText string              `json:"statusText"`
	Headers    map[string][]string `json:"headers"`
}

// NewCachedResponse snapshots an already sanitized response for storage.
func NewCachedResponse(status int, statusText string, header http.Header, body []byte) *CachedResponse {
	headers := make(map[string][]string, len(header))
	for k, vals := range header {
		key := strings.ToLower(k)
		headers[key] = append(headers[key], vals...)
	}
	return &CachedResponse{
		Data:       body,
		Status:     status,
		StatusText: statusText,
		Headers:    headers,
	}
}

// HTTPHeader returns the stored headers in canonical form.
func (c *CachedResponse) HTTPHeader() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, vals := range c.Headers {
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	return h
}
