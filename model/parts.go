package model

type (
	// ConversationRole identifies the author of a conversation message.
	ConversationRole string

	// Message mirrors an LLM chat message with a role and ordered content
	// parts. Messages form the conversation history sent to and received
	// from the model.
	Message struct {
		// Role indicates the message author: system, user, or assistant.
		// Tool results travel as ToolResultPart inside user messages, the
		// shape shared by the supported providers.
		Role ConversationRole

		// Parts is the ordered content of the message. A plain prompt is a
		// single TextPart; assistant turns may interleave thinking, text,
		// and tool_use parts.
		Parts []Part

		// Meta carries provider-specific metadata (message IDs, timestamps).
		// Call bindings ignore it; it is preserved for debugging.
		Meta map[string]any
	}

	// Part is a single content block within a Message. The concrete types
	// are TextPart, ThinkingPart, ToolUsePart, and ToolResultPart; the
	// unexported method keeps the set closed.
	Part interface {
		isPart()
	}

	// TextPart is plain text content.
	TextPart struct {
		Text string
	}

	// ThinkingPart carries extended reasoning content from models that
	// support thinking modes. Signature is the provider's integrity token
	// required to replay the block in subsequent turns.
	ThinkingPart struct {
		Text      string
		Signature string
	}

	// ToolUsePart records a tool invocation inside an assistant message.
	// Replayed verbatim when rebuilding history for multi-turn tool use.
	ToolUsePart struct {
		// ID correlates the invocation with its ToolResultPart.
		ID string
		// Name is the tool identifier as advertised to the model.
		Name string
		// Input is the decoded argument payload, typically map[string]any.
		Input any
	}

	// ToolResultPart feeds a tool execution result back to the model.
	ToolResultPart struct {
		// ToolUseID references the ToolUsePart.ID this result answers.
		ToolUseID string
		// Name optionally repeats the tool identifier for providers that
		// require it.
		Name string
		// Content is the result payload: string, []byte, or any
		// JSON-marshalable value.
		Content any
		// IsError marks the result as a failed execution so the model can
		// react accordingly.
		IsError bool
	}
)

// Conversation role constants.
const (
	ConversationRoleSystem    ConversationRole = "system"
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
)

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Text builds a single-part text message. Convenience for the common case of
// system prompts and plain user turns.
func Text(role ConversationRole, text string) *Message {
	return &Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// System builds a system message from text.
func System(text string) *Message { return Text(ConversationRoleSystem, text) }

// User builds a user message from text.
func User(text string) *Message { return Text(ConversationRoleUser, text) }

// Assistant builds an assistant message from text.
func Assistant(text string) *Message { return Text(ConversationRoleAssistant, text) }
