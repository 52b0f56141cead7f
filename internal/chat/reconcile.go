package chat

import (
	logx "github.com/nomai-core/server/pkg/logger"
)

// Reconcile filters a freshly loaded message sequence into one that is safe
// to hand to the model provider as conversation context: every tool return
// must be preceded by its matching tool call, and every tool call must be
// resolved by a return before the history ends. Messages violating the
// pairing invariant are dropped; the input is never mutated.
//
// The pass is two-phase. The first phase indexes call and return ids by the
// message that contains them; an id is valid only when it has both sides and
// the call does not come after its return. The second phase walks messages
// in order keeping a pending set of unresolved valid calls, dropping any
// tool-return message whose ids are not all pending.
//
// Reconcile is idempotent: reconciling an already reconciled sequence
// returns an equal sequence.
func Reconcile(msgs []Message) []Message {
	callIndex := make(map[string]int)
	returnIndex := make(map[string]int)
	for i, m := range msgs {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case ToolCallPart:
				if _, seen := callIndex[v.ToolCallID]; !seen {
					callIndex[v.ToolCallID] = i
				}
			case ToolReturnPart:
				if _, seen := returnIndex[v.ToolCallID]; !seen {
					returnIndex[v.ToolCallID] = i
				}
			}
		}
	}

	valid := make(map[string]bool, len(callIndex))
	for id, ci := range callIndex {
		if ri, ok := returnIndex[id]; ok && ci <= ri {
			valid[id] = true
		}
	}

	out := make([]Message, 0, len(msgs))
	pending := make(map[string]bool)
	for _, m := range msgs {
		calls, returns := toolIDs(m)

		if len(calls) == 0 && len(returns) == 0 {
			out = append(out, m)
			continue
		}

		if len(calls) > 0 {
			allValid := true
			for _, id := range calls {
				if !valid[id] {
					allValid = false
					break
				}
			}
			if !allValid {
				logx.Debug().
					Str("message_id", m.ID).
					Strs("tool_call_ids", calls).
					Msg("dropping message with unpaired tool calls")
				continue
			}
			for _, id := range calls {
				pending[id] = true
			}
			out = append(out, m)
			continue
		}

		// Tool-return-only message: keep only if every return resolves a
		// pending call.
		allPending := true
		for _, id := range returns {
			if !pending[id] {
				allPending = false
				break
			}
		}
		if !allPending {
			logx.Debug().
				Str("message_id", m.ID).
				Strs("tool_call_ids", returns).
				Msg("dropping message with orphaned tool returns")
			continue
		}
		for _, id := range returns {
			delete(pending, id)
		}
		out = append(out, m)
	}

	return out
}

func toolIDs(m Message) (calls, returns []string) {
	for _, p := range m.Parts {
		switch v := p.(type) {
		case ToolCallPart:
			calls = append(calls, v.ToolCallID)
		case ToolReturnPart:
			returns = append(returns, v.ToolCallID)
		}
	}
	return calls, returns
}
