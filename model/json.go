package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MarshalJSON encodes TextPart with a Kind discriminator.
func (p TextPart) MarshalJSON() ([]byte, error) {
	type alias TextPart
	return json.Marshal(struct {
		Kind string `json:"Kind"`
		alias
	}{Kind: "text", alias: alias(p)})
}

// MarshalJSON encodes ThinkingPart with a Kind discriminator.
func (p ThinkingPart) MarshalJSON() ([]byte, error) {
	type alias ThinkingPart
	return json.Marshal(struct {
		Kind string `json:"Kind"`
		alias
	}{Kind: "thinking", alias: alias(p)})
}

// MarshalJSON encodes ToolUsePart with a Kind discriminator.
func (p ToolUsePart) MarshalJSON() ([]byte, error) {
	type alias ToolUsePart
	return json.Marshal(struct {
		Kind string `json:"Kind"`
		alias
	}{Kind: "tool_use", alias: alias(p)})
}

// MarshalJSON encodes ToolResultPart with a Kind discriminator.
func (p ToolResultPart) MarshalJSON() ([]byte, error) {
	type alias ToolResultPart
	return json.Marshal(struct {
		Kind string `json:"Kind"`
		alias
	}{Kind: "tool_result", alias: alias(p)})
}

// UnmarshalJSON decodes a Message while materializing the concrete Part
// implementations stored in Parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role  ConversationRole
		Parts []json.RawMessage
		Meta  map[string]any
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	m.Role = tmp.Role
	m.Meta = tmp.Meta
	if len(tmp.Parts) == 0 {
		m.Parts = nil
		return nil
	}
	m.Parts = make([]Part, 0, len(tmp.Parts))
	for i, raw := range tmp.Parts {
		part, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("decode parts[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func decodePart(raw json.RawMessage) (Part, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		// A bare JSON string is accepted as shorthand for a text part.
		var text string
		if errText := json.Unmarshal(raw, &text); errText == nil {
			return TextPart{Text: text}, nil
		}
		return nil, fmt.Errorf("decode part object: %w", err)
	}
	if len(obj) == 0 {
		return nil, errors.New("empty part payload")
	}

	// Discriminator-based decoding when Kind is present (preferred).
	if kindRaw, ok := obj["Kind"]; ok {
		var kind string
		if err := json.Unmarshal(kindRaw, &kind); err != nil {
			return nil, fmt.Errorf("decode Kind: %w", err)
		}
		switch kind {
		case "text":
			var p TextPart
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("decode TextPart: %w", err)
			}
			return p, nil
		case "thinking":
			var p ThinkingPart
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("decode ThinkingPart: %w", err)
			}
			return p, nil
		case "tool_use":
			var p ToolUsePart
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("decode ToolUsePart: %w", err)
			}
			if p.Name == "" {
				return nil, errors.New("ToolUsePart requires Name")
			}
			return p, nil
		case "tool_result":
			var p ToolResultPart
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("decode ToolResultPart: %w", err)
			}
			if p.ToolUseID == "" {
				return nil, errors.New("ToolResultPart requires ToolUseID")
			}
			return p, nil
		default:
			return nil, fmt.Errorf("unknown part kind %q", kind)
		}
	}

	// Shape-based fallbacks for payloads produced without discriminators.
	if _, ok := obj["Signature"]; ok {
		var p ThinkingPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ThinkingPart: %w", err)
		}
		return p, nil
	}
	if _, ok := obj["ToolUseID"]; ok {
		var p ToolResultPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ToolResultPart: %w", err)
		}
		if p.ToolUseID == "" {
			return nil, errors.New("ToolResultPart requires ToolUseID")
		}
		return p, nil
	}
	if _, ok := obj["Name"]; ok {
		var p ToolUsePart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ToolUsePart: %w", err)
		}
		if p.Name == "" {
			return nil, errors.New("ToolUsePart requires Name")
		}
		return p, nil
	}
	if _, ok := obj["Text"]; ok {
		var p TextPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode TextPart: %w", err)
		}
		return p, nil
	}

	return nil, errors.New("unknown part shape")
}
