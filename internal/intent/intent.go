// Package intent classifies user utterances into conversation modes.
//
// Classification is a rule engine, not an ML component: ordered keyword
// sets are tested against the lowercased utterance and the first match
// wins. The order is load-bearing: an utterance matching both a
// technical keyword and a code keyword is always technical_support.
package intent

import "strings"

// Intent is the coarse style category chosen per turn. It selects the
// system instruction that conditions the generation engine's tone.
type Intent string

const (
	TechnicalSupport Intent = "technical_support"
	CodeAssistant    Intent = "code_assistant"
	Tutorial         Intent = "tutorial"
	CasualChat       Intent = "casual_chat"
)

// rule pairs a keyword predicate with its intent. Rules are evaluated
// in declaration order; CasualChat is the fallback and has no rule.
type rule struct {
	intent   Intent
	keywords []string
}

var rules = []rule{
	{TechnicalSupport, []string{
		"error", "bug", "not working", "broken", "issue", "problem",
		"fix", "help", "troubleshoot", "debug", "doesn't work", "failing",
	}},
	{CodeAssistant, []string{
		"code", "function", "python", "javascript", "programming",
		"algorithm", "syntax", "class", "variable", "loop", "api",
		"write a", "create a function", "how to code",
	}},
	{Tutorial, []string{
		"how to", "teach me", "explain", "what is", "tutorial",
		"learn", "understand", "show me how", "step by step",
		"can you explain", "help me understand",
	}},
}

// Classify maps an utterance to an Intent. It is total: unmatched
// utterances fall back to CasualChat.
func Classify(utterance string) Intent {
	lower := strings.ToLower(utterance)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.intent
			}
		}
	}
	return CasualChat
}

// System instruction templates, one per intent. The mapping is a static
// table; unknown intents use the casual chat template.
const (
	casualChatTemplate = `You are a friendly and helpful AI assistant. When responding:
- Write in clear, well-structured paragraphs
- Use markdown formatting for better readability
- Keep responses warm and conversational
- Break up long responses into multiple paragraphs
- Be engaging and personable`

	technicalSupportTemplate = `You are a technical support specialist. When responding:
- Be systematic and methodical in troubleshooting
- Ask clarifying questions to understand the issue
- Provide step-by-step solutions
- Use clear, numbered instructions
- Offer to help with follow-up questions
- Use code blocks for technical examples`

	codeAssistantTemplate = `You are an expert programming assistant. When responding:
- Provide clear, well-commented code examples
- Explain the logic behind your solutions
- Use proper markdown with code blocks (` + "```" + `language)
- Suggest best practices and optimizations
- Point out potential issues or edge cases
- Be precise and technical`

	tutorialTemplate = `You are a patient teacher and tutor. When responding:
- Break down complex concepts into simple steps
- Use analogies and real-world examples
- Check for understanding by asking questions
- Provide clear explanations with examples
- Start with basics before advancing
- Encourage learning and experimentation`
)

var templates = map[Intent]string{
	TechnicalSupport: technicalSupportTemplate,
	CodeAssistant:    codeAssistantTemplate,
	Tutorial:         tutorialTemplate,
	CasualChat:       casualChatTemplate,
}

// Template returns the system instruction for the intent.
func (i Intent) Template() string {
	if t, ok := templates[i]; ok {
		return t
	}
	return casualChatTemplate
}

var labels = map[Intent]string{
	TechnicalSupport: "🔧 Technical Support Mode",
	CodeAssistant:    "💻 Code Assistant Mode",
	Tutorial:         "📚 Tutorial Mode",
	CasualChat:       "💬 Chat Mode",
}

// Label returns the human-facing mode name announced to the client.
func (i Intent) Label() string {
	if l, ok := labels[i]; ok {
		return l
	}
	return labels[CasualChat]
}
