package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies which side of the conversation produced a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn in a conversation: an ordered sequence of parts.
// Messages are never edited after creation; corrections happen by filtering
// at read time (see Reconcile).
type Message struct {
	ID        string
	Role      Role
	Timestamp time.Time
	Parts     []Part
}

// Part is a closed sum over the kinds of content a message can carry.
// Branching on part kinds is done with type switches over this interface;
// every switch must handle all four variants.
type Part interface {
	partKind() string
}

// UserPromptPart is the caller's prompt text.
type UserPromptPart struct {
	Content   string
	Timestamp time.Time
}

// TextPart is model-produced text, accumulated across stream deltas.
type TextPart struct {
	Content string
}

// ToolCallPart records the model requesting a tool invocation.
type ToolCallPart struct {
	ToolName   string
	Args       json.RawMessage
	ToolCallID string
}

// ToolReturnPart carries a tool's result back to the model. Its ToolCallID
// must reference an earlier ToolCallPart within the same reconciled history.
type ToolReturnPart struct {
	ToolCallID string
	ToolName   string
	Content    any
}

const (
	partKindUserPrompt = "user-prompt"
	partKindText       = "text"
	partKindToolCall   = "tool-call"
	partKindToolReturn = "tool-return"
)

func (UserPromptPart) partKind() string { return partKindUserPrompt }
func (TextPart) partKind() string       { return partKindText }
func (ToolCallPart) partKind() string   { return partKindToolCall }
func (ToolReturnPart) partKind() string { return partKindToolReturn }

// HasToolCalls reports whether the message contains any tool-call part.
func (m Message) HasToolCalls() bool {
	for _, p := range m.Parts {
		if _, ok := p.(ToolCallPart); ok {
			return true
		}
	}
	return false
}

// HasToolReturns reports whether the message contains any tool-return part.
func (m Message) HasToolReturns() bool {
	for _, p := range m.Parts {
		if _, ok := p.(ToolReturnPart); ok {
			return true
		}
	}
	return false
}

// Text concatenates the message's text parts in order.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Content
		}
	}
	return out
}

// messageJSON is the persisted shape of a Message. Parts use a tagged union
// with a part_kind discriminator.
type messageJSON struct {
	ID        string     `json:"id,omitempty"`
	Role      Role       `json:"role"`
	Timestamp time.Time  `json:"timestamp"`
	Parts     []partJSON `json:"parts"`
}

type partJSON struct {
	PartKind   string          `json:"part_kind"`
	Content    json.RawMessage `json:"content,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// MarshalJSON encodes the message with its tagged-union parts.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:        m.ID,
		Role:      m.Role,
		Timestamp: m.Timestamp.UTC(),
		Parts:     make([]partJSON, 0, len(m.Parts)),
	}
	for _, p := range m.Parts {
		pj, err := encodePart(p)
		if err != nil {
			return nil, err
		}
		out.Parts = append(out.Parts, pj)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the tagged-union parts back into the closed sum.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	msg := Message{
		ID:        raw.ID,
		Role:      raw.Role,
		Timestamp: raw.Timestamp,
		Parts:     make([]Part, 0, len(raw.Parts)),
	}
	for _, pj := range raw.Parts {
		p, err := decodePart(pj)
		if err != nil {
			return err
		}
		msg.Parts = append(msg.Parts, p)
	}
	*m = msg
	return nil
}

func encodePart(p Part) (partJSON, error) {
	switch v := p.(type) {
	case UserPromptPart:
		content, err := json.Marshal(v.Content)
		if err != nil {
			return partJSON{}, err
		}
		ts := v.Timestamp.UTC()
		return partJSON{PartKind: partKindUserPrompt, Content: content, Timestamp: &ts}, nil
	case TextPart:
		content, err := json.Marshal(v.Content)
		if err != nil {
			return partJSON{}, err
		}
		return partJSON{PartKind: partKindText, Content: content}, nil
	case ToolCallPart:
		return partJSON{
			PartKind:   partKindToolCall,
			ToolName:   v.ToolName,
			Args:       v.Args,
			ToolCallID: v.ToolCallID,
		}, nil
	case ToolReturnPart:
		content, err := json.Marshal(NormalizeToolContent(v.Content))
		if err != nil {
			return partJSON{}, err
		}
		return partJSON{
			PartKind:   partKindToolReturn,
			Content:    content,
			ToolName:   v.ToolName,
			ToolCallID: v.ToolCallID,
		}, nil
	default:
		return partJSON{}, fmt.Errorf("chat: unknown part kind %T", p)
	}
}

func decodePart(pj partJSON) (Part, error) {
	switch pj.PartKind {
	case partKindUserPrompt:
		var content string
		if err := json.Unmarshal(pj.Content, &content); err != nil {
			return nil, fmt.Errorf("chat: decode user prompt part: %w", err)
		}
		var ts time.Time
		if pj.Timestamp != nil {
			ts = *pj.Timestamp
		}
		return UserPromptPart{Content: content, Timestamp: ts}, nil
	case partKindText:
		var content string
		if err := json.Unmarshal(pj.Content, &content); err != nil {
			return nil, fmt.Errorf("chat: decode text part: %w", err)
		}
		return TextPart{Content: content}, nil
	case partKindToolCall:
		return ToolCallPart{
			ToolName:   pj.ToolName,
			Args:       pj.Args,
			ToolCallID: pj.ToolCallID,
		}, nil
	case partKindToolReturn:
		var content any
		if len(pj.Content) > 0 {
			if err := json.Unmarshal(pj.Content, &content); err != nil {
				return nil, fmt.Errorf("chat: decode tool return part: %w", err)
			}
		}
		return ToolReturnPart{
			ToolCallID: pj.ToolCallID,
			ToolName:   pj.ToolName,
			Content:    content,
		}, nil
	default:
		return nil, fmt.Errorf("chat: unknown part_kind %q", pj.PartKind)
	}
}

// NormalizeToolContent converts structured tool results into plain
// JSON-native values (maps, slices, scalars) so an opaque struct handle is
// never handed to the JSON encoder on the wire path. Values that cannot be
// marshalled degrade to their string form.
func NormalizeToolContent(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, int, int64,
		map[string]any, []any:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return out
}
