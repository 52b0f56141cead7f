package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// WireMessage is one frame of the outward newline-delimited JSON protocol.
// The same shape serves both the live stream (with the is_* flags set) and
// the history read path (flags omitted).
type WireMessage struct {
	Role         string           `json:"role"`
	Timestamp    string           `json:"timestamp"`
	Content      string           `json:"content"`
	ToolCalls    []WireToolCall   `json:"tool_calls,omitempty"`
	ToolReturns  []WireToolReturn `json:"tool_returns,omitempty"`
	IsPartial    bool             `json:"is_partial,omitempty"`
	IsFinal      bool             `json:"is_final,omitempty"`
	IsToolCall   bool             `json:"is_tool_call,omitempty"`
	IsToolResult bool             `json:"is_tool_result,omitempty"`
}

type WireToolCall struct {
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args"`
	ToolCallID string          `json:"tool_call_id"`
}

type WireToolReturn struct {
	ToolCallID string `json:"tool_call_id"`
	Content    any    `json:"content"`
	ToolName   string `json:"tool_name"`
}

// ErrUnexpectedMessage signals a stored message whose shape matches no known
// conversation role; it indicates an incompatible change in what was
// persisted and must fail loudly rather than be silently skipped.
type ErrUnexpectedMessage struct {
	Role Role
}

func (e ErrUnexpectedMessage) Error() string {
	return fmt.Sprintf("chat: unexpected message role %q", e.Role)
}

// ToWireMessage projects a Message into the outward JSON shape.
//
// User-role messages carrying a prompt become user frames. User-role
// messages whose only content is tool returns become model frames with
// tool_returns (the request side of a tool cycle). A user-role message with
// neither (a system-prompt-only message) yields nil and is filtered out
// upstream so it never reaches the client. Model-role messages concatenate
// their text parts and attach tool activity when present.
func ToWireMessage(m Message) (*WireMessage, error) {
	switch m.Role {
	case RoleUser:
		for _, p := range m.Parts {
			if up, ok := p.(UserPromptPart); ok {
				ts := up.Timestamp
				if ts.IsZero() {
					ts = m.Timestamp
				}
				return &WireMessage{
					Role:      "user",
					Timestamp: wireTime(ts),
					Content:   up.Content,
				}, nil
			}
		}

		returns := collectToolReturns(m)
		if len(returns) > 0 {
			return &WireMessage{
				Role:        "model",
				Timestamp:   wireTime(m.Timestamp),
				Content:     "",
				ToolReturns: returns,
			}, nil
		}

		return nil, nil

	case RoleModel:
		w := &WireMessage{
			Role:      "model",
			Timestamp: wireTime(m.Timestamp),
			Content:   m.Text(),
		}
		for _, p := range m.Parts {
			if tc, ok := p.(ToolCallPart); ok {
				w.ToolCalls = append(w.ToolCalls, WireToolCall{
					ToolName:   tc.ToolName,
					Args:       tc.Args,
					ToolCallID: tc.ToolCallID,
				})
			}
		}
		w.ToolReturns = collectToolReturns(m)
		return w, nil

	default:
		return nil, ErrUnexpectedMessage{Role: m.Role}
	}
}

// ProjectMessages converts a message sequence to wire frames, dropping the
// nil projections (system-prompt-only messages).
func ProjectMessages(msgs []Message) ([]*WireMessage, error) {
	out := make([]*WireMessage, 0, len(msgs))
	for _, m := range msgs {
		w, err := ToWireMessage(m)
		if err != nil {
			return nil, err
		}
		if w != nil {
			out = append(out, w)
		}
	}
	return out, nil
}

func collectToolReturns(m Message) []WireToolReturn {
	var out []WireToolReturn
	for _, p := range m.Parts {
		if tr, ok := p.(ToolReturnPart); ok {
			name := tr.ToolName
			if name == "" {
				name = "tool_return"
			}
			out = append(out, WireToolReturn{
				ToolCallID: tr.ToolCallID,
				Content:    NormalizeToolContent(tr.Content),
				ToolName:   name,
			})
		}
	}
	return out
}

func wireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
