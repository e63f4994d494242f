package middleware

import "testing"

func TestIsProxyRequest(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		// Proxy requests
		{
			name:     "v1 chat completions path",
			path:     "/v1/chat/completions",
			expected: true,
		},
		{
			name:     "v1 models path",
			path:     "/v1/models",
			expected: true,
		},
		{
			name:     "v1 messages path",
			path:     "/v1/messages",
			expected: true,
		},

		// Non-proxy requests
		{
			name:     "health check endpoint",
			path:     "/internal/health",
			expected: false,
		},
		{
			name:     "status endpoint",
			path:     "/internal/status",
			expected: false,
		},
		{
			name:     "version endpoint",
			path:     "/version",
			expected: false,
		},
		{
			name:     "root path",
			path:     "/",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsProxyRequest(tt.path)
			if result != tt.expected {
				t.Errorf("IsProxyRequest(%q) = %v, want %v", tt.path, result, tt.expected)
			}
		})
	}
}
