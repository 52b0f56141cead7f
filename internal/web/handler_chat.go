package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nomai-core/server/internal/agent"
	"github.com/nomai-core/server/internal/chat"
	errx "github.com/nomai-core/server/internal/core/error"
	"github.com/nomai-core/server/internal/stream"
	logx "github.com/nomai-core/server/pkg/logger"
)

// ChatMessageRequest is the body of POST /chat/messages.
type ChatMessageRequest struct {
	Prompt             string   `json:"prompt"`
	UserID             string   `json:"user_id"`
	LocalTime          string   `json:"local_time,omitempty"`
	DietaryPreferences []string `json:"dietary_preferences,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	SelectedGoals      []string `json:"selected_goals,omitempty"`
	FoodImage          string   `json:"foodImage,omitempty"`
}

// handleChatStream runs one agent turn and streams its frames to the client
// as newline-delimited JSON. The stream takes priority over durability: the
// completed turn is persisted only after the last frame is flushed, and
// persistence failures are logged, never surfaced into the response.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, errx.Validation(errx.CodeInvalidInput, "request body is not valid JSON", errx.Detail{}))
		return
	}
	if req.Prompt == "" {
		s.writeError(w, r, errx.Validation(errx.CodeMissingRequiredField, "prompt is required", errx.Detail{
			Field: "prompt", Constraint: "required",
		}))
		return
	}
	if req.UserID == "" {
		s.writeError(w, r, errx.Validation(errx.CodeMissingRequiredField, "user_id is required", errx.Detail{
			Field: "user_id", Constraint: "required",
		}))
		return
	}

	prompt := req.Prompt
	if req.FoodImage != "" {
		prompt += fmt.Sprintf("\n\n[User provided an image: %s]", req.FoodImage)
	}

	history, err := s.repo.GetMessages(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history = chat.Reconcile(history)

	base := stream.BaseTimestamp(req.LocalTime)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	proj := stream.NewProjector(w, base)
	result, err := s.driver.Run(r.Context(), agent.RunInput{
		Prompt:  prompt,
		History: history,
		Profile: agent.Profile{
			DietaryPreferences: req.DietaryPreferences,
			Allergies:          req.Allergies,
			SelectedGoals:      req.SelectedGoals,
		},
	}, proj.Emit)
	if err != nil {
		// The stream is already underway; an incomplete run is never
		// persisted (a half-finished turn would mix stale tool state into
		// the next read). Client disconnects are routine, everything else
		// gets a best-effort error line.
		if errors.Is(err, context.Canceled) {
			logx.Debug().Str("user_id", req.UserID).Msg("chat stream cancelled by client")
			return
		}
		e := errx.From(err)
		logEvent(e.Severity).Err(e.Err).Str("error_code", string(e.Code)).
			Str("user_id", req.UserID).Msg("agent run failed")
		b, _ := json.Marshal(map[string]string{"error": e.Message, "error_code": string(e.Code)})
		_, _ = w.Write(append(b, '\n'))
		return
	}

	// Persist with a context detached from the request: the client closing
	// the connection right after the final frame must not lose the turn.
	persistCtx := context.WithoutCancel(r.Context())
	if err := s.repo.AddMessages(persistCtx, req.UserID, result.NewMessages, base); err != nil {
		logx.Error().Err(err).Str("user_id", req.UserID).Msg("failed to persist chat turn")
	}
}

// handleGetMessages returns the user's reconciled conversation as
// newline-delimited JSON, one frame per message.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, r, errx.Validation(errx.CodeMissingRequiredField, "user_id is required", errx.Detail{
			Field: "user_id", Constraint: "required",
		}))
		return
	}

	msgs, err := s.repo.GetMessages(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	frames, err := chat.ProjectMessages(chat.Reconcile(msgs))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	enc := json.NewEncoder(w)
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			logx.Error().Err(err).Str("user_id", userID).Msg("failed to write history frame")
			return
		}
	}
}

// handleMessageTools returns the tool activity recorded on one stored
// message, or 404 when the message does not exist.
func (s *Server) handleMessageTools(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("id")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, r, errx.Validation(errx.CodeMissingRequiredField, "user_id is required", errx.Detail{
			Field: "user_id", Constraint: "required",
		}))
		return
	}

	msg, err := s.repo.GetMessageByID(r.Context(), userID, messageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msg == nil {
		s.writeError(w, r, errx.New(nil, errx.CodeNotFound, "message not found"))
		return
	}

	frame, err := chat.ToWireMessage(*msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	toolInfo := struct {
		ToolCalls   []chat.WireToolCall   `json:"tool_calls"`
		ToolReturns []chat.WireToolReturn `json:"tool_returns"`
	}{
		ToolCalls:   []chat.WireToolCall{},
		ToolReturns: []chat.WireToolReturn{},
	}
	if frame != nil {
		if frame.ToolCalls != nil {
			toolInfo.ToolCalls = frame.ToolCalls
		}
		if frame.ToolReturns != nil {
			toolInfo.ToolReturns = frame.ToolReturns
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toolInfo)
}
