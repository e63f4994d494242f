package dispatcher

import (
	"bytes"

	"github.com/tidwall/gjson"
)

const ssePrefix = "data: "

// extractSSEUsage looks for a usage object on a single SSE data line
// without a full unmarshal, mirroring the gjson partial-path extraction
// pattern used elsewhere for cheap field pulls on the hot path.
func extractSSEUsage(line []byte) (int, bool) {
	if !bytes.HasPrefix(line, []byte(ssePrefix)) {
		return 0, false
	}
	payload := line[len(ssePrefix):]
	if bytes.Equal(bytes.TrimSpace(payload), []byte("[DONE]")) {
		return 0, false
	}

	if v := gjson.GetBytes(payload, "usage.total_tokens"); v.Exists() {
		return int(v.Int()), true
	}
	if v := gjson.GetBytes(payload, "message.usage.output_tokens"); v.Exists() {
		return int(v.Int()), true
	}
	return 0, false
}

// extractUsageTokens pulls a usage total from a fully-buffered
// (non-streaming) response body.
func extractUsageTokens(body []byte) int {
	if v := gjson.GetBytes(body, "usage.total_tokens"); v.Exists() {
		return int(v.Int())
	}
	if v := gjson.GetBytes(body, "usage.output_tokens"); v.Exists() {
		return int(v.Int())
	}
	return 0
}

// isContextWindowExceeded checks a 400 error body for Anthropic/OpenAI's
// context-window-exceeded hint, without a full unmarshal.
func isContextWindowExceeded(body []byte) bool {
	errType := gjson.GetBytes(body, "error.type").String()
	if errType == "context_window_exceeded" || errType == "invalid_request_error" && bytes.Contains(body, []byte("context_window_exceeded")) {
		return true
	}
	return bytes.Contains(body, []byte("context_window_exceeded")) || bytes.Contains(body, []byte("maximum context length"))
}
