// Package stream maps live agent run events onto the outward
// newline-delimited JSON protocol.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nomai-core/server/internal/agent"
	"github.com/nomai-core/server/internal/chat"
)

// Projector converts driver events into wire frames and writes one JSON
// object per line, flushed per event so the client sees true incremental
// updates. All accumulation state is scoped to a single run: create one
// Projector per run and discard it afterwards.
type Projector struct {
	w    io.Writer
	base time.Time

	accumulated  string
	toolCalls    []chat.WireToolCall
	toolReturns  []chat.WireToolReturn
	finalEmitted bool
}

// NewProjector creates a run-scoped projector writing frames to w. Every
// frame of the run carries base as its timestamp so the client can order
// the whole turn as one unit.
func NewProjector(w io.Writer, base time.Time) *Projector {
	return &Projector{w: w, base: base}
}

// BaseTimestamp fixes the run's single timestamp: the caller's local time
// when parseable (defaulting to UTC when it carries no zone), otherwise the
// server clock.
func BaseTimestamp(localTime string) time.Time {
	if localTime != "" {
		if t, err := time.Parse(time.RFC3339, localTime); err == nil {
			return t
		}
		// No zone designator: treat as UTC.
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", localTime, time.UTC); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// Emit projects one driver event onto the wire. Write failures (client gone)
// propagate so the driver stops advancing.
func (p *Projector) Emit(ev agent.Event) error {
	switch e := ev.(type) {
	case agent.UserPromptEvent:
		return p.write(chat.WireMessage{
			Role:      "user",
			Timestamp: p.timestamp(),
			Content:   e.Prompt,
		})

	case agent.TextDeltaEvent:
		// Content is cumulative so each frame renders on its own.
		p.accumulated += e.Delta
		return p.write(chat.WireMessage{
			Role:      "model",
			Timestamp: p.timestamp(),
			Content:   p.accumulated,
			IsPartial: true,
		})

	case agent.FinalResultEvent:
		if p.finalEmitted || p.accumulated == "" {
			return nil
		}
		p.finalEmitted = true
		return p.write(chat.WireMessage{
			Role:        "model",
			Timestamp:   p.timestamp(),
			Content:     p.accumulated,
			IsFinal:     true,
			ToolCalls:   p.toolCalls,
			ToolReturns: p.toolReturns,
		})

	case agent.ToolCallRequestedEvent:
		call := chat.WireToolCall{
			ToolName:   e.Call.ToolName,
			Args:       e.Call.Args,
			ToolCallID: e.Call.ToolCallID,
		}
		p.toolCalls = append(p.toolCalls, call)
		return p.write(chat.WireMessage{
			Role:       "model",
			Timestamp:  p.timestamp(),
			Content:    "",
			ToolCalls:  []chat.WireToolCall{call},
			IsToolCall: true,
		})

	case agent.ToolCallCompletedEvent:
		ret := chat.WireToolReturn{
			ToolCallID: e.Return.ToolCallID,
			Content:    chat.NormalizeToolContent(e.Return.Content),
			ToolName:   e.Return.ToolName,
		}
		p.toolReturns = append(p.toolReturns, ret)
		return p.write(chat.WireMessage{
			Role:         "model",
			Timestamp:    p.timestamp(),
			Content:      "",
			ToolReturns:  []chat.WireToolReturn{ret},
			IsToolResult: true,
		})

	case agent.EndEvent:
		if p.finalEmitted || e.Output == "" {
			return nil
		}
		p.finalEmitted = true
		return p.write(chat.WireMessage{
			Role:        "model",
			Timestamp:   p.timestamp(),
			Content:     e.Output,
			IsFinal:     true,
			ToolCalls:   p.toolCalls,
			ToolReturns: p.toolReturns,
		})

	default:
		// Closed sum; a new event kind must be wired here explicitly.
		return fmt.Errorf("stream: unhandled run event %T", ev)
	}
}

func (p *Projector) timestamp() string {
	return p.base.Format(time.RFC3339Nano)
}

func (p *Projector) write(frame chat.WireMessage) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := p.w.Write(append(b, '\n')); err != nil {
		return err
	}
	if f, ok := p.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
