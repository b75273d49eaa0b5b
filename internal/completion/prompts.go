package completion

import (
	"fmt"

	"github.com/sidekick-chat/sidekick/internal/provider"
)

const groundingRules = `You are 'Sidekick', a careful assistant. Use only the provided room messages as evidence and answer with a single valid JSON object matching the schema. If the evidence is thin, say so briefly.`

const summarySystem = groundingRules + `

Schema: {"markdown": "string", "citations": [{"messageId": "string"}]}

Write a summary with exactly four sections:
1. **Context**: what changed or matters
2. **Decisions**: what was decided
3. **Open Questions**: what is still unclear
4. **Owners**: who owns what

Rules:
- At most 10 bullets across all sections
- Cite 2 to 5 messages that support the key claims
- Plain, concise language`

const tasksSystem = groundingRules + `

Schema: {"markdown": "string", "citations": [{"messageId": "string"}]}

List actionable tasks, one per line, in this format:
- [ ] @owner | task text | Due: optional

Rules:
- Owners must be one of: %s
- Prefer fewer, clearer tasks and skip vague or duplicate items
- If there are none, reply "No actionable items found."`

const replySystem = `You are 'Sidekick', %s's careful assistant. Write a short, helpful reply to the latest message, grounded in the recent conversation. Answer with a single valid JSON object.

Schema: {"reply_markdown": "string", "citations": [{"messageId": "string"}], "confidence": number}

Rules:
- Be concise and directly helpful
- Cite the messages your reply relies on
- confidence is 0.0 to 1.0: 0.8 and above for clear questions with obvious answers, 0.5 to 0.7 for general questions with context, below 0.5 for unclear or speculative requests`

func buildMessages(req Request) []provider.Message {
	tr := req.Transcript
	var system, user string
	switch req.Mode {
	case ModeSummarize:
		system = summarySystem
		user = "Summarize these messages:\n\n" + tr.Render()
	case ModeExtractTasks:
		owners := tr.OwnersText()
		system = fmt.Sprintf(tasksSystem, owners)
		user = fmt.Sprintf("Extract tasks from these messages.\n\nValid owners: %s\n\nMessages:\n%s", owners, tr.Render())
	case ModeAutonomousReply:
		system = fmt.Sprintf(replySystem, req.Responder)
		user = fmt.Sprintf("Latest message to respond to: %q\n\nRecent context:\n%s\n\nReply as %s's assistant.", req.Trigger, tr.Render(), req.Responder)
	}
	return []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
