package domain

import "time"

// SensitiveHeaders are never retained in a stored failed-request entry
//
var SensitiveHeaders = []string{
	"authorization",
	"x-api-key",
	"x-admin-token",
	"cookie",
	"set-cookie",
	"x-forwarded-for",
	"x-real-ip",
}

// FailedRequestEntry is a bounded, TTL'd record of a request that failed in
// a way worth being able to replay.
type FailedRequestEntry struct {
	StoredAt         time.Time
	ExpiresAt        time.Time
	SanitizedHeaders map[string]string
	LastReplayResult string
	StoreID          string
	OriginalRequestID string
	Method           string
	URL              string
	ErrorKind        ErrorKind
	BodyBase64       string
	BodySize         int
	ReplayCount      int
	KeyIndex         int
	BodyTruncated    bool
}

// SanitizeHeaders copies a header map, dropping every entry named in
// SensitiveHeaders (case-insensitively).
func SanitizeHeaders(headers map[string][]string) map[string]string {
	drop := make(map[string]bool, len(SensitiveHeaders))
	for _, h := range SensitiveHeaders {
		drop[h] = true
	}

	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := toLowerASCII(k)
		if drop[lower] {
			continue
		}
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// ReplayResult is what a failed-request store's replay() returns.
type ReplayResult struct {
	Error    string
	Success  bool
	KeyIndex int
}
