package dispatcher

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are connection-specific per RFC 2616 13.5.1 and must
// never be forwarded to the upstream provider.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// clientSensitiveHeaders are the client's own auth headers - they must
// never reach the upstream provider, which gets its own credential
// injected by the dispatcher from the acquired pool entry.
var clientSensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"X-Api-Key":           true,
	"X-Auth-Token":        true,
	"X-Admin-Token":       true,
	"Proxy-Authorization": true,
}

// storageOnlySensitiveHeaders are never persisted by the failed-request
// store even though they are forwarded upstream on the live request path.
var storageOnlySensitiveHeaders = map[string]bool{
	"Set-Cookie":      true,
	"X-Forwarded-For": true,
	"X-Real-Ip":       true,
}

// connectionListedHeaders returns the extra per-request hop-by-hop header
// names the client named in its Connection header, per RFC 7230 6.1 - these
// must be stripped in addition to the fixed hopByHopHeaders set.
func connectionListedHeaders(client http.Header) map[string]bool {
	extra := make(map[string]bool)
	for _, v := range client.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				extra[http.CanonicalHeaderKey(name)] = true
			}
		}
	}
	return extra
}

// BuildUpstreamHeaders copies the client's headers, stripping hop-by-hop,
// client-auth, proxy-internal (x-proxy-*) and Connection-listed headers,
// then injects the provider's auth header and any provider-mandated extra
// headers.
func BuildUpstreamHeaders(client http.Header, authName, authValue string, extra map[string]string) http.Header {
	connectionListed := connectionListedHeaders(client)

	out := make(http.Header, len(client)+len(extra)+1)
	for name, values := range client {
		canonical := http.CanonicalHeaderKey(name)
		if hopByHopHeaders[canonical] || clientSensitiveHeaders[canonical] || connectionListed[canonical] {
			continue
		}
		if strings.HasPrefix(strings.ToLower(canonical), "x-proxy-") {
			continue
		}
		out[canonical] = values
	}

	for name, value := range extra {
		out.Set(name, value)
	}

	out.Set(authName, authValue)
	return out
}

// SanitizeForStorage strips every sensitive header, used before a request
// is handed to the failed-request store for potential replay.
func SanitizeForStorage(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if clientSensitiveHeaders[canonical] || storageOnlySensitiveHeaders[canonical] {
			continue
		}
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
