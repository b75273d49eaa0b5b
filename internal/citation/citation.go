// Package citation validates message references returned by the completion service.
package citation

// refLen is how many trailing id characters a public reply shows per citation.
const refLen = 6

// Citation references one source message by id.
type Citation struct {
	MessageID string `json:"messageId"`
}

// Filter keeps only citations whose message id was part of the transcript
// sent to the completion service. Order is preserved and duplicates collapse
// to their first occurrence. Ids must match exactly; unknown or padded ids
// are dropped silently.
func Filter(citations []Citation, ids map[string]struct{}) []Citation {
	out := make([]Citation, 0, len(citations))
	seen := make(map[string]struct{}, len(citations))
	for _, c := range citations {
		if _, ok := ids[c.MessageID]; !ok {
			continue
		}
		if _, dup := seen[c.MessageID]; dup {
			continue
		}
		seen[c.MessageID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Refs returns the short labels shown under an automated reply.
func Refs(citations []Citation) []string {
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		id := c.MessageID
		if len(id) > refLen {
			id = id[len(id)-refLen:]
		}
		out = append(out, id)
	}
	return out
}
