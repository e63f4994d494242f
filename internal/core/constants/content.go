package constants

const (
	DefaultContentTypeJSON = "application/json"
	ContentTypeJSON        = "application/json"
	ContentTypeText        = "text/plain"
	ContentTypeHeader      = "Content-Type"

	HeaderXRequestID   = "X-Request-ID"
	HeaderContentType  = "Content-Type"
	HeaderAccept       = "Accept"
)
