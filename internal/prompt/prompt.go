// Package prompt assembles the bounded generation context for one turn.
package prompt

import (
	"encoding/json"

	"github.com/firebase/genkit/go/ai"

	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/tool"
)

// HistoryLimit caps how many prior log entries enter the context. The
// newest entries are kept; order is preserved.
const HistoryLimit = 20

// Build assembles the message sequence for a turn: the system
// instruction, the trailing window of the session's log, and the
// current utterance. When a tool fired, the utterance is wrapped
// together with the tool payload so the model answers from the data
// instead of echoing it.
func Build(systemInstruction string, history []session.LogEntry, utterance string, toolName tool.Name, toolPayload tool.Payload) []*ai.Message {
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}

	msgs := make([]*ai.Message, 0, len(history)+2)
	msgs = append(msgs, ai.NewSystemMessage(ai.NewTextPart(systemInstruction)))

	for _, entry := range history {
		switch entry.EventType {
		case session.EventUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(entry.Message)))
		case session.EventAI:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(entry.Message)))
		}
	}

	final := utterance
	if toolPayload != nil {
		final = wrapWithToolData(utterance, toolName, toolPayload)
	}
	msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(final)))

	return msgs
}

func wrapWithToolData(utterance string, toolName tool.Name, payload tool.Payload) string {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		data = []byte("{}")
	}
	return "User query: " + utterance + "\n\n" +
		"I retrieved the following data using the " + string(toolName) + " function:\n" +
		string(data) + "\n\n" +
		"Please use this data to answer the user's question in a natural, conversational way. \n" +
		"Don't just repeat the raw data - interpret it and present it in a user-friendly format."
}
