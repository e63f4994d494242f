package constants

const (
	DefaultHealthCheckEndpoint = "/internal/health"
	DefaultProxyPathPrefix     = "/v1/"
	DefaultPathPrefix          = "/"

	// OpenAI-compatible API paths forwarded as-is to the resolved provider.
	PathV1ChatCompletions = "/v1/chat/completions"
	PathV1Completions     = "/v1/completions"
)
