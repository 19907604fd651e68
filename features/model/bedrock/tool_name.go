package bedrock

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// sanitizeToolName maps a tool identifier (for example "library.search")
// to a Bedrock-compatible tool name. Bedrock restricts tool names to
// [a-zA-Z0-9_-]{1,64} and echoes them back verbatim in tool_use blocks,
// so the mapping must be deterministic: dots become underscores to keep
// namespace information, any other disallowed rune becomes '_', and names
// over the length limit are truncated with a stable hash suffix appended
// to preserve uniqueness.
func sanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8

	// Fast path: keep the common all-allowed case allocation-free.
	allowed := true
	for _, r := range in {
		if r == '.' {
			r = '_'
		}
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			allowed = false
		}
		if !allowed {
			break
		}
	}

	var sanitized string
	if allowed {
		sanitized = strings.ReplaceAll(in, ".", "_")
	} else {
		out := make([]rune, 0, len(in))
		for _, r := range in {
			if r == '.' {
				r = '_'
			}
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
				out = append(out, r)
			default:
				out = append(out, '_')
			}
		}
		sanitized = string(out)
	}

	if len(sanitized) <= maxLen {
		return sanitized
	}

	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	return sanitized[:prefixLen] + "_" + suffix
}

// normalizeToolName strips the function-calling prefix some Bedrock models
// prepend when echoing tool names in tool_use blocks.
func normalizeToolName(name string) string {
	return strings.TrimPrefix(name, "$FUNCTIONS.")
}
