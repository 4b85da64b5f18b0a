package cachefront

import (
	"net/http"
	"strings"
)

// copyHeader adds all values from src to dst.
func copyHeader(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// filterHeader returns a copy of h with the ignored header names
// removed. Matching is case-insensitive.
func filterHeader(h http.Header, ignore []string) http.Header {
	filtered := make(http.Header, len(h))
	for name, values := range h {
		if containsFold(ignore, name) {
			continue
		}
		for _, v := range values {
			filtered.Add(name, v)
		}
	}
	return filtered
}

// hopHeaders are connection-level headers that must not travel from the
// client connection to the upstream one.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
