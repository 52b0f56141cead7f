package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/nomai-core/server/internal/chat"
	errx "github.com/nomai-core/server/internal/core/error"
	logx "github.com/nomai-core/server/pkg/logger"
)

// Config tunes one run of the agent loop.
type Config struct {
	// MaxToolCycles bounds how many model-request/call-tools cycles a single
	// run may take before it is forced to finalize.
	MaxToolCycles int `envconfig:"AGENT_MAX_TOOL_CYCLES" default:"5"`
	// ModelTimeoutSeconds bounds each individual model call.
	ModelTimeoutSeconds int `envconfig:"AGENT_MODEL_TIMEOUT_SECONDS" default:"120"`
	// ToolTimeoutSeconds bounds each individual tool invocation.
	ToolTimeoutSeconds int `envconfig:"AGENT_TOOL_TIMEOUT_SECONDS" default:"90"`
}

// Profile is the caller's dietary context, threaded explicitly into each run
// so the system prompt is always built for the requesting user. Nothing
// profile-derived is cached on the Driver.
type Profile struct {
	DietaryPreferences []string
	Allergies          []string
	SelectedGoals      []string
}

// RunInput seeds one agent turn.
type RunInput struct {
	Prompt  string
	History []chat.Message
	Profile Profile
}

// RunResult is the aggregate outcome of a completed run. NewMessages holds
// the turn's messages in conversation order, ready for persistence.
type RunResult struct {
	Output      string
	NewMessages []chat.Message
}

// Driver executes agent turns against a tool-bound chat model. It holds only
// stateless, shareable handles; all run state is local to Run.
type Driver struct {
	model model.ToolCallingChatModel
	tools map[string]tool.InvokableTool
	cfg   Config
}

// NewDriver binds the tools to the chat model and indexes them by name.
func NewDriver(ctx context.Context, base model.ToolCallingChatModel, tools []tool.InvokableTool, cfg Config) (*Driver, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	byName := make(map[string]tool.InvokableTool, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("get tool info: %w", err)
		}
		infos = append(infos, info)
		byName[info.Name] = t
	}

	bound, err := base.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("bind tools to chat model: %w", err)
	}

	if cfg.MaxToolCycles <= 0 {
		cfg.MaxToolCycles = 5
	}
	if cfg.ModelTimeoutSeconds <= 0 {
		cfg.ModelTimeoutSeconds = 120
	}
	if cfg.ToolTimeoutSeconds <= 0 {
		cfg.ToolTimeoutSeconds = 90
	}
	return &Driver{model: bound, tools: byName, cfg: cfg}, nil
}

// Run drives one agent turn to completion, emitting lifecycle events to the
// sink as the state machine advances. A sink error (typically a client
// disconnect) stops node advancement immediately; the provider stream is
// released on every exit path.
func (d *Driver) Run(ctx context.Context, in RunInput, emit Sink) (*RunResult, error) {
	now := time.Now().UTC()

	if err := emit(UserPromptEvent{Prompt: in.Prompt}); err != nil {
		return nil, err
	}

	provMsgs := []*schema.Message{schema.SystemMessage(SystemPrompt(in.Profile))}
	hist, err := toProviderMessages(in.History)
	if err != nil {
		return nil, err
	}
	provMsgs = append(provMsgs, hist...)
	provMsgs = append(provMsgs, schema.UserMessage(in.Prompt))

	newMessages := []chat.Message{{
		Role:      chat.RoleUser,
		Timestamp: now,
		Parts:     []chat.Part{chat.UserPromptPart{Content: in.Prompt, Timestamp: now}},
	}}

	var (
		accumulated string
		idSeq       int
	)

	for cycle := 0; ; cycle++ {
		full, err := d.streamModelRequest(ctx, provMsgs, &accumulated, emit)
		if err != nil {
			return nil, err
		}

		if len(full.ToolCalls) == 0 {
			if err := emit(FinalResultEvent{Content: accumulated}); err != nil {
				return nil, err
			}
			newMessages = append(newMessages, chat.Message{
				Role:      chat.RoleModel,
				Timestamp: now,
				Parts:     []chat.Part{chat.TextPart{Content: full.Content}},
			})
			break
		}

		if cycle >= d.cfg.MaxToolCycles {
			logx.Warn().Int("cycles", cycle).Msg("tool cycle budget exhausted, finalizing run")
			if err := emit(FinalResultEvent{Content: accumulated}); err != nil {
				return nil, err
			}
			break
		}

		// CallToolsNode: execute each requested tool, feeding results back
		// to the model for the next request cycle.
		for i := range full.ToolCalls {
			if full.ToolCalls[i].ID == "" {
				idSeq++
				full.ToolCalls[i].ID = fmt.Sprintf("call_%d", idSeq)
			}
		}
		provMsgs = append(provMsgs, full)

		responseParts := make([]chat.Part, 0, len(full.ToolCalls)+1)
		if full.Content != "" {
			responseParts = append(responseParts, chat.TextPart{Content: full.Content})
		}
		returnParts := make([]chat.Part, 0, len(full.ToolCalls))

		for _, tc := range full.ToolCalls {
			callPart := chat.ToolCallPart{
				ToolName:   tc.Function.Name,
				Args:       json.RawMessage(tc.Function.Arguments),
				ToolCallID: tc.ID,
			}
			responseParts = append(responseParts, callPart)
			if err := emit(ToolCallRequestedEvent{Call: callPart}); err != nil {
				return nil, err
			}

			payload, err := d.executeTool(ctx, tc)
			if err != nil {
				return nil, err
			}

			returnPart := chat.ToolReturnPart{
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
				Content:    payload,
			}
			returnParts = append(returnParts, returnPart)
			if err := emit(ToolCallCompletedEvent{Return: returnPart}); err != nil {
				return nil, err
			}

			resultJSON, merr := json.Marshal(payload)
			if merr != nil {
				resultJSON = []byte(fmt.Sprintf("%q", fmt.Sprint(payload)))
			}
			provMsgs = append(provMsgs, schema.ToolMessage(string(resultJSON), tc.ID, schema.WithToolName(tc.Function.Name)))
		}

		newMessages = append(newMessages,
			chat.Message{Role: chat.RoleModel, Timestamp: now, Parts: responseParts},
			chat.Message{Role: chat.RoleUser, Timestamp: now, Parts: returnParts},
		)
	}

	if err := emit(EndEvent{Output: accumulated}); err != nil {
		return nil, err
	}
	return &RunResult{Output: accumulated, NewMessages: newMessages}, nil
}

// streamModelRequest runs one ModelRequestNode: it opens the provider
// stream, forwards text deltas as they arrive and returns the concatenated
// response message. The stream reader is closed on every path out.
func (d *Driver) streamModelRequest(ctx context.Context, msgs []*schema.Message, accumulated *string, emit Sink) (*schema.Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.ModelTimeoutSeconds)*time.Second)
	defer cancel()

	sr, err := d.model.Stream(callCtx, msgs)
	if err != nil {
		return nil, errx.ClassifyModelError(err, "Gemini AI")
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, errx.ClassifyModelError(err, "Gemini AI")
		}
		if chunk == nil {
			continue
		}
		if chunk.Content != "" {
			*accumulated += chunk.Content
			if err := emit(TextDeltaEvent{Delta: chunk.Content, Accumulated: *accumulated}); err != nil {
				return nil, err
			}
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) == 0 {
		return nil, errx.New(nil, errx.CodeModelAPIError, "model returned an empty stream")
	}
	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		// The provider emitted chunk shapes we cannot reassemble; this is a
		// contract violation for the whole turn, not something to retry.
		return nil, errx.New(err, errx.CodeModelAPIError, "unrecognized model response stream")
	}
	return full, nil
}

// executeTool invokes one requested tool. Execution failures are data: they
// come back as an error payload the model can read and recover from.
// Configuration failures (missing credentials) abort the run instead.
func (d *Driver) executeTool(ctx context.Context, tc schema.ToolCall) (any, error) {
	name := tc.Function.Name
	t, ok := d.tools[name]
	if !ok {
		logx.Warn().Str("tool_name", name).Msg("model requested an unknown tool")
		return map[string]any{"error": "unknown_tool", "name": name}, nil
	}

	toolCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.ToolTimeoutSeconds)*time.Second)
	defer cancel()

	out, err := t.InvokableRun(toolCtx, tc.Function.Arguments)
	if err != nil {
		e := errx.From(err)
		if e.Severity == errx.SeverityCritical {
			return nil, e
		}
		logx.Warn().Err(err).Str("tool_name", name).Msg("tool execution failed, returning error payload")
		return map[string]any{"error": e.Message, "error_code": string(e.Code)}, nil
	}

	var payload any
	if jerr := json.Unmarshal([]byte(out), &payload); jerr != nil {
		payload = out
	}
	return payload, nil
}

// toProviderMessages converts reconciled history into the provider's message
// shape. An unknown part kind here means the stored history predates or
// postdates this binary's contract and the turn must fail loudly.
func toProviderMessages(history []chat.Message) ([]*schema.Message, error) {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case chat.RoleUser:
			for _, p := range m.Parts {
				switch v := p.(type) {
				case chat.UserPromptPart:
					out = append(out, schema.UserMessage(v.Content))
				case chat.ToolReturnPart:
					content, err := json.Marshal(chat.NormalizeToolContent(v.Content))
					if err != nil {
						return nil, errx.Internal(err)
					}
					out = append(out, schema.ToolMessage(string(content), v.ToolCallID, schema.WithToolName(v.ToolName)))
				case chat.TextPart, chat.ToolCallPart:
					// Text or tool calls on the request side have no provider
					// equivalent; skip.
				default:
					return nil, errx.New(nil, errx.CodeInternal, fmt.Sprintf("unknown history part %T", p))
				}
			}
		case chat.RoleModel:
			var toolCalls []schema.ToolCall
			for _, p := range m.Parts {
				if tc, ok := p.(chat.ToolCallPart); ok {
					toolCalls = append(toolCalls, schema.ToolCall{
						ID:   tc.ToolCallID,
						Type: "function",
						Function: schema.FunctionCall{
							Name:      tc.ToolName,
							Arguments: string(tc.Args),
						},
					})
				}
			}
			out = append(out, schema.AssistantMessage(m.Text(), toolCalls))
		default:
			return nil, chat.ErrUnexpectedMessage{Role: m.Role}
		}
	}
	return out, nil
}
