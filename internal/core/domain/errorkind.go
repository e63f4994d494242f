package domain

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrorKind is the closed set of outcome classifications a dispatch attempt
// can produce. Every terminal failure on the request path is mapped to
// exactly one of these before it reaches the retry loop.
type ErrorKind string

const (
	ErrorKindNone                  ErrorKind = ""
	ErrorKindTimeout               ErrorKind = "timeout"
	ErrorKindSocketHangup          ErrorKind = "socket_hangup"
	ErrorKindConnectionRefused     ErrorKind = "connection_refused"
	ErrorKindBrokenPipe            ErrorKind = "broken_pipe"
	ErrorKindConnectionAborted     ErrorKind = "connection_aborted"
	ErrorKindStreamPrematureClose  ErrorKind = "stream_premature_close"
	ErrorKindHTTPParseError        ErrorKind = "http_parse_error"
	ErrorKindDNSError              ErrorKind = "dns_error"
	ErrorKindTLSError              ErrorKind = "tls_error"
	ErrorKindRateLimited           ErrorKind = "rate_limited"
	ErrorKindAuthError             ErrorKind = "auth_error"
	ErrorKindServerError           ErrorKind = "server_error"
	ErrorKindModelAtCapacity       ErrorKind = "model_at_capacity"
	ErrorKindContextOverflow       ErrorKind = "context_overflow"
	ErrorKindAborted               ErrorKind = "aborted"
)

// RetryPolicy describes how the retry loop should treat an ErrorKind.
type RetryPolicy struct {
	Retryable    bool
	TripsBreaker bool
	IsRateLimit  bool
}

var retryPolicies = map[ErrorKind]RetryPolicy{
	ErrorKindTimeout:              {Retryable: true},
	ErrorKindSocketHangup:         {Retryable: true},
	ErrorKindConnectionRefused:    {Retryable: true, TripsBreaker: true},
	ErrorKindBrokenPipe:           {Retryable: true},
	ErrorKindConnectionAborted:    {Retryable: true},
	ErrorKindStreamPrematureClose: {Retryable: true},
	ErrorKindHTTPParseError:       {Retryable: true, TripsBreaker: true},
	ErrorKindDNSError:             {Retryable: true, TripsBreaker: true},
	ErrorKindTLSError:             {Retryable: false, TripsBreaker: true},
	ErrorKindRateLimited:          {Retryable: true, IsRateLimit: true},
	ErrorKindAuthError:            {Retryable: true, TripsBreaker: true},
	ErrorKindServerError:          {Retryable: true, TripsBreaker: true},
	ErrorKindModelAtCapacity:      {Retryable: true},
	ErrorKindContextOverflow:      {Retryable: false},
	ErrorKindAborted:              {Retryable: false},
}

// Policy returns the retry/breaker/rate-limit disposition for a kind.
func (k ErrorKind) Policy() RetryPolicy {
	if p, ok := retryPolicies[k]; ok {
		return p
	}
	return RetryPolicy{}
}

func (k ErrorKind) Retryable() bool    { return k.Policy().Retryable }
func (k ErrorKind) TripsBreaker() bool { return k.Policy().TripsBreaker }
func (k ErrorKind) IsRateLimit() bool  { return k.Policy().IsRateLimit }

// ShortCircuits reports whether the retry loop must stop immediately rather
// than attempt another credential.
func (k ErrorKind) ShortCircuits() bool {
	switch k {
	case ErrorKindTLSError, ErrorKindContextOverflow, ErrorKindAborted:
		return true
	default:
		return false
	}
}

// ClassifiedError pairs an underlying error with the ErrorKind the dispatcher
// decided it maps to, so callers can log the concrete cause while the retry
// loop only needs the kind.
type ClassifiedError struct {
	Err  error
	Kind ErrorKind
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func NewClassifiedError(kind ErrorKind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: err}
}

var connectionErrorSubstrings = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"no route to host",
	"connection timed out",
	"i/o timeout",
	"dial tcp",
	"connectex:",
	"broken pipe",
}

// ClassifyNetError maps a transport-level error into an ErrorKind following
// a fixed classification table. It inspects syscall errnos first, then
// net.Error timeout flags, then falls back to substring matching the way
// the teacher's IsConnectionError/hasConnectionError pair does.
func ClassifyNetError(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return ErrorKindConnectionRefused
		case syscall.ECONNRESET:
			return ErrorKindSocketHangup
		case syscall.EPIPE:
			return ErrorKindBrokenPipe
		case syscall.ECONNABORTED:
			return ErrorKindConnectionAborted
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}

	low := strings.ToLower(err.Error())
	switch {
	case strings.Contains(low, "no such host"), strings.Contains(low, "eai_again"), strings.Contains(low, "getaddrinfo"):
		return ErrorKindDNSError
	case strings.Contains(low, "tls"), strings.Contains(low, "certificate"), strings.Contains(low, "x509"):
		return ErrorKindTLSError
	case strings.Contains(low, "broken pipe"), strings.Contains(low, "write after end"):
		return ErrorKindBrokenPipe
	case strings.Contains(low, "connection reset"):
		return ErrorKindSocketHangup
	case strings.Contains(low, "connection refused"), strings.Contains(low, "network is unreachable"), strings.Contains(low, "no route to host"):
		return ErrorKindConnectionRefused
	case strings.Contains(low, "unexpected eof"), strings.Contains(low, "premature"):
		return ErrorKindStreamPrematureClose
	case strings.Contains(low, "malformed") || strings.Contains(low, "unexpected response"):
		return ErrorKindHTTPParseError
	}

	for _, sub := range connectionErrorSubstrings {
		if strings.Contains(low, sub) {
			return ErrorKindConnectionRefused
		}
	}

	return ErrorKindServerError
}
