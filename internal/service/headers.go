package service

import (
	"net/http"
)

// Response headers the proxy adds.
const (
	HeaderFinalURL = "X-Final-Url"
	HeaderCacheHit = "X-Cache-Hit"
)

// strippedResponseHeaders only describe the upstream hop or would clash with
// the proxy's own CORS policy.
var strippedResponseHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Vary",
	"Etag",
	"Date",
	"Allow",
	"Access-Control-Allow-Origin",
	"Access-Control-Expose-Headers",
	"Access-Control-Allow-Credentials",
}

// SanitizeHeaders builds the header set relayed to the client. With
// removeHeaders only X-Final-Url survives; otherwise every upstream header
// except strippedResponseHeaders is kept and X-Final-Url is added.
func SanitizeHeaders(src http.Header, finalURL string, removeHeaders bool) http.Header {
	dst := make(http.Header, len(src)+1)
	if !removeHeaders {
		for key, vals := range src {
			dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
		}
		for _, h := range strippedResponseHeaders {
			dst.Del(h)
		}
	}
	dst.Set(HeaderFinalURL, finalURL)
	return dst
}

// onlyFinalURL reduces an already sanitized header set to X-Final-Url.
func onlyFinalURL(h http.Header) http.Header {
	dst := make(http.Header, 1)
	if v := h.Get(HeaderFinalURL); v != "" {
		dst.Set(HeaderFinalURL, v)
	}
	return dst
}
