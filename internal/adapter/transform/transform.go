// Package transform implements the request transformer (C8): a cheap
// gjson probe for the model field, a full jsoniter parse/rewrite when a
// mapping applies, and the admin override header gate.
//
// Grounded on translator.ExtractModelName (gjson field probe before
// committing to a full parse) and the profile parsers' use of
// json-iterator/go for low-allocation body handling.
package transform

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/driftwell/relay/internal/core/domain"
)

const AdminOverrideHeader = "x-admin-override-model"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProbeModel performs the cheap "does this body have a model field" check
// without a full unmarshal, mirroring translator.ExtractModelName.
func ProbeModel(body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty request body")
	}

	result := gjson.GetBytes(body, "model")
	if !result.Exists() {
		return "", fmt.Errorf("model field is required")
	}
	if result.Type != gjson.String {
		return "", fmt.Errorf("model field must be a string, got %s", result.Type)
	}
	if result.Str == "" {
		return "", fmt.Errorf("model field must not be empty")
	}
	return result.Str, nil
}

// Rewrite replaces the top-level "model" field with targetModel and
// returns the re-encoded body. It round-trips through a generic map rather
// than a typed struct, since request bodies vary by provider and only the
// model field needs touching.
func Rewrite(body []byte, targetModel string) ([]byte, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding request body: %w", err)
	}

	payload["model"] = targetModel

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return out, nil
}

// ExtractFeatures probes the signals the model router classifies on
// without a full unmarshal: message count and system prompt length from
// an OpenAI/Anthropic-style "messages" array, max_tokens, and the
// presence of tool or image content blocks.
func ExtractFeatures(model string, body []byte) domain.RequestFeatures {
	f := domain.RequestFeatures{Model: model}

	if v := gjson.GetBytes(body, "max_tokens"); v.Exists() {
		f.MaxTokens = int(v.Int())
	}
	if v := gjson.GetBytes(body, "tools"); v.Exists() && v.IsArray() {
		f.HasTools = len(v.Array()) > 0
	}
	if v := gjson.GetBytes(body, "system"); v.Exists() {
		f.SystemPromptLen = len(v.String())
	}

	messages := gjson.GetBytes(body, "messages")
	if messages.IsArray() {
		msgs := messages.Array()
		f.MessageCount = len(msgs)
		for _, m := range msgs {
			role := m.Get("role").String()
			content := m.Get("content")
			if role == "system" {
				f.SystemPromptLen += len(content.String())
			}
			if content.IsArray() {
				for _, block := range content.Array() {
					switch block.Get("type").String() {
					case "image", "image_url":
						f.HasVision = true
					case "tool_use", "tool_result":
						f.HasTools = true
					}
				}
			}
		}
	}

	f.EstimatedTokens = (f.SystemPromptLen + estimateBodyChars(body)) / 4
	return f
}

func estimateBodyChars(body []byte) int {
	if len(body) > 8192 {
		return 8192
	}
	return len(body)
}

// AdminOverride inspects the admin override header and, when present and
// the caller is authorised, returns the forced route it names. Authorised
// is a caller-supplied predicate (e.g. a static admin token check) so this
// package stays free of auth policy.
func AdminOverride(headerValue string, authorised bool) (domain.ResolvedRoute, bool) {
	if headerValue == "" || !authorised {
		return domain.ResolvedRoute{}, false
	}
	return domain.ResolvedRoute{TargetModel: headerValue, ProviderName: ""}, true
}
