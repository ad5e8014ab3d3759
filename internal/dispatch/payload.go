package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Preview limits for api-log metadata. Errors get a shorter preview than
// response bodies.
const (
	errorPreviewLimit    = 500
	responsePreviewLimit = 800
)

var errMissingPayload = errors.New("缺少 payload")

// parsePayload decodes the command payload into a typed struct. An absent
// payload is a caller error for every command that reaches this function.
func parsePayload[T any](raw json.RawMessage) (T, error) {
	var v T

	if len(raw) == 0 || string(raw) == "null" {
		return v, errMissingPayload
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("payload 解析失败: %w", err)
	}

	return v, nil
}

// parseOptionalPayload is for commands whose payload may be omitted
// entirely; the zero value of T is returned in that case.
func parseOptionalPayload[T any](raw json.RawMessage) (T, error) {
	var v T

	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("payload 解析失败: %w", err)
	}

	return v, nil
}

// requireField rejects blank required string fields with the field name in
// the message.
func requireField(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("缺少字段 %s", name)
	}

	return nil
}

// normalizeNodeName validates a user-supplied file or folder name.
func normalizeNodeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("名称不能为空")
	}

	if strings.ContainsAny(trimmed, `/\`) {
		return "", errors.New("名称不能包含路径分隔符")
	}

	return trimmed, nil
}

// sensitiveKey reports whether a JSON object key should be masked in api
// logs. Matching is by substring so app_secret, tenant_access_token and the
// like are all covered.
func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)

	return strings.Contains(lower, "secret") ||
		strings.Contains(lower, "token") ||
		strings.Contains(lower, "password")
}

// sanitizePayload decodes a raw payload and masks sensitive values for
// logging. Undecodable payloads are logged as an opaque marker rather than
// leaking raw bytes.
func sanitizePayload(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "(invalid payload)"
	}

	return sanitizeValue(v)
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if sensitiveKey(k) {
				out[k] = "***"

				continue
			}

			out[k] = sanitizeValue(item)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}

		return out
	default:
		return v
	}
}

// summarizeValue renders a handler result for the api log: scalars pass
// through, everything else becomes truncated JSON text.
func summarizeValue(v any, limit int) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, int, int64, float64:
		return val
	case string:
		return truncate(val, limit)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return truncate(fmt.Sprintf("%v", v), limit)
	}

	return truncate(string(data), limit)
}

// truncate shortens s to at most limit runes, marking the cut with an
// ellipsis.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit]) + "…"
}
