package completion

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sidekick-chat/sidekick/internal/citation"
)

// parseReply validates the JSON object returned by the model. Summaries and
// task lists carry "markdown"; autonomous replies carry "reply_markdown" and
// a "confidence" in [0, 1]. Citations must be an array of objects with a
// string "messageId" when present.
func parseReply(mode Mode, content string) (*Result, error) {
	content = strings.TrimSpace(content)
	if !gjson.Valid(content) {
		return nil, fmt.Errorf("reply is not valid JSON")
	}
	root := gjson.Parse(content)
	if !root.IsObject() {
		return nil, fmt.Errorf("reply is not a JSON object")
	}

	field := "markdown"
	if mode == ModeAutonomousReply {
		field = "reply_markdown"
	}
	md := root.Get(field)
	if md.Type != gjson.String || strings.TrimSpace(md.String()) == "" {
		return nil, fmt.Errorf("%s must be a non-empty string", field)
	}
	res := &Result{Markdown: strings.TrimSpace(md.String())}

	cites := root.Get("citations")
	switch {
	case !cites.Exists() || cites.Type == gjson.Null:
		res.Citations = []citation.Citation{}
	case !cites.IsArray():
		return nil, fmt.Errorf("citations must be an array")
	default:
		res.Citations = make([]citation.Citation, 0, len(cites.Array()))
		for i, c := range cites.Array() {
			if !c.IsObject() {
				return nil, fmt.Errorf("citations[%d] must be an object", i)
			}
			id := c.Get("messageId")
			if id.Type != gjson.String {
				return nil, fmt.Errorf("citations[%d].messageId must be a string", i)
			}
			res.Citations = append(res.Citations, citation.Citation{MessageID: id.String()})
		}
	}

	if mode == ModeAutonomousReply {
		conf := root.Get("confidence")
		if conf.Type != gjson.Number {
			return nil, fmt.Errorf("confidence must be a number")
		}
		v := conf.Float()
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("confidence %v out of range", v)
		}
		res.Confidence = &v
	}
	return res, nil
}
