package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomai-core/server/internal/agent"
	"github.com/nomai-core/server/internal/chat"
)

func decodeFrames(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var frames []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var f map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &f), "line: %s", sc.Text())
		frames = append(frames, f)
	}
	require.NoError(t, sc.Err())
	return frames
}

func TestProjectorTextOnlyRun(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	p := NewProjector(&buf, base)

	events := []agent.Event{
		agent.UserPromptEvent{Prompt: "how healthy is rice?"},
		agent.TextDeltaEvent{Delta: "Rice is "},
		agent.TextDeltaEvent{Delta: "a staple."},
		agent.FinalResultEvent{Content: "Rice is a staple."},
		agent.EndEvent{Output: "Rice is a staple."},
	}
	for _, ev := range events {
		require.NoError(t, p.Emit(ev))
	}

	frames := decodeFrames(t, &buf)
	require.Len(t, frames, 4)

	assert.Equal(t, "user", frames[0]["role"])
	assert.Equal(t, "how healthy is rice?", frames[0]["content"])

	assert.Equal(t, "model", frames[1]["role"])
	assert.Equal(t, "Rice is ", frames[1]["content"])
	assert.Equal(t, true, frames[1]["is_partial"])

	assert.Equal(t, "Rice is a staple.", frames[2]["content"])
	assert.Equal(t, true, frames[2]["is_partial"])

	assert.Equal(t, "Rice is a staple.", frames[3]["content"])
	assert.Equal(t, true, frames[3]["is_final"])
	assert.NotContains(t, frames[3], "is_partial")
}

func TestProjectorExactlyOneFinalFrame(t *testing.T) {
	var buf bytes.Buffer
	p := NewProjector(&buf, time.Now().UTC())

	require.NoError(t, p.Emit(agent.TextDeltaEvent{Delta: "answer"}))
	require.NoError(t, p.Emit(agent.FinalResultEvent{Content: "answer"}))
	require.NoError(t, p.Emit(agent.EndEvent{Output: "answer"}))

	frames := decodeFrames(t, &buf)
	finals := 0
	for _, f := range frames {
		if f["is_final"] == true {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}

func TestProjectorEndEmitsFinalWhenNoFinalResult(t *testing.T) {
	// A run that exhausts its tool budget skips the final-result node; the
	// end event still closes the stream with one final frame.
	var buf bytes.Buffer
	p := NewProjector(&buf, time.Now().UTC())

	require.NoError(t, p.Emit(agent.TextDeltaEvent{Delta: "partial answer"}))
	require.NoError(t, p.Emit(agent.EndEvent{Output: "partial answer"}))

	frames := decodeFrames(t, &buf)
	require.Len(t, frames, 2)
	assert.Equal(t, true, frames[1]["is_final"])
	assert.Equal(t, "partial answer", frames[1]["content"])
}

func TestProjectorSuppressesEmptyFinal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProjector(&buf, time.Now().UTC())

	require.NoError(t, p.Emit(agent.UserPromptEvent{Prompt: "hi"}))
	require.NoError(t, p.Emit(agent.FinalResultEvent{Content: ""}))
	require.NoError(t, p.Emit(agent.EndEvent{Output: ""}))

	frames := decodeFrames(t, &buf)
	require.Len(t, frames, 1)
	assert.Equal(t, "user", frames[0]["role"])
}

func TestProjectorToolCycle(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	p := NewProjector(&buf, base)

	call := chat.ToolCallPart{
		ToolName:   "calculate_nutrition_by_food_description",
		Args:       json.RawMessage(`{"food_description":"grilled chicken breast with rice"}`),
		ToolCallID: "tc1",
	}
	ret := chat.ToolReturnPart{
		ToolCallID: "tc1",
		ToolName:   "calculate_nutrition_by_food_description",
		Content:    map[string]any{"food_name": "grilled chicken breast with rice"},
	}

	events := []agent.Event{
		agent.UserPromptEvent{Prompt: "analyze grilled chicken breast with rice"},
		agent.ToolCallRequestedEvent{Call: call},
		agent.ToolCallCompletedEvent{Return: ret},
		agent.TextDeltaEvent{Delta: "A solid meal."},
		agent.FinalResultEvent{Content: "A solid meal."},
		agent.EndEvent{Output: "A solid meal."},
	}
	for _, ev := range events {
		require.NoError(t, p.Emit(ev))
	}

	frames := decodeFrames(t, &buf)
	require.Len(t, frames, 5)

	assert.Equal(t, true, frames[1]["is_tool_call"])
	calls, ok := frames[1]["tool_calls"].([]any)
	require.True(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, "tc1", calls[0].(map[string]any)["tool_call_id"])

	assert.Equal(t, true, frames[2]["is_tool_result"])
	returns, ok := frames[2]["tool_returns"].([]any)
	require.True(t, ok)
	require.Len(t, returns, 1)

	// The final frame aggregates the run's tool activity.
	final := frames[4]
	assert.Equal(t, true, final["is_final"])
	assert.Len(t, final["tool_calls"], 1)
	assert.Len(t, final["tool_returns"], 1)

	// Every frame of the run carries the same timestamp.
	want := base.Format(time.RFC3339Nano)
	for i, f := range frames {
		assert.Equal(t, want, f["timestamp"], "frame %d", i)
	}
}

func TestProjectorCumulativeContentGrows(t *testing.T) {
	var buf bytes.Buffer
	p := NewProjector(&buf, time.Now().UTC())

	deltas := []string{"The ", "meal ", "looks ", "balanced."}
	for _, d := range deltas {
		require.NoError(t, p.Emit(agent.TextDeltaEvent{Delta: d}))
	}

	frames := decodeFrames(t, &buf)
	require.Len(t, frames, len(deltas))
	prev := ""
	for i, f := range frames {
		content := f["content"].(string)
		assert.True(t, strings.HasPrefix(content, prev), "frame %d content %q lost prefix %q", i, content, prev)
		assert.Greater(t, len(content), len(prev))
		prev = content
	}
	assert.Equal(t, "The meal looks balanced.", prev)
}

func TestBaseTimestamp(t *testing.T) {
	t.Run("rfc3339 with zone", func(t *testing.T) {
		got := BaseTimestamp("2026-03-01T16:00:00+07:00")
		want, _ := time.Parse(time.RFC3339, "2026-03-01T16:00:00+07:00")
		assert.True(t, got.Equal(want))
	})

	t.Run("no zone treated as utc", func(t *testing.T) {
		got := BaseTimestamp("2026-03-01T16:00:00")
		assert.Equal(t, time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC), got)
	})

	t.Run("unparseable falls back to now", func(t *testing.T) {
		before := time.Now().UTC()
		got := BaseTimestamp("yesterday at noon")
		after := time.Now().UTC()
		assert.False(t, got.Before(before))
		assert.False(t, got.After(after))
	})

	t.Run("empty falls back to now", func(t *testing.T) {
		before := time.Now().UTC()
		got := BaseTimestamp("")
		after := time.Now().UTC()
		assert.False(t, got.Before(before))
		assert.False(t, got.After(after))
	})
}
