package enhance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type modelPayload struct {
	Script   string   `json:"script"`
	Scenes   []Scene  `json:"scenes"`
	Keywords []string `json:"keywords"`
}

func buildPrompt(script string) string {
	sb := &strings.Builder{}
	sb.WriteString("You are a script editor for short narrated videos. Improve the narration for clarity and flow without changing its meaning or length by more than 20%. ")
	sb.WriteString("Split it into scenes of one or two sentences and give each scene up to three visual search keywords for stock footage. ")
	sb.WriteString(`Respond strictly with JSON matching this schema: {"script":string,"scenes":[{"text":string,"keywords":string[]}],"keywords":string[]}. `)
	fmt.Fprintf(sb, "Script: %q", script)
	return sb.String()
}

func parseModelPayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

func extractJSONFragment(raw string) string {
	text := trimCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return ""
	}
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func toResult(p modelPayload) Result {
	return Result{Script: p.Script, Scenes: p.Scenes, Keywords: p.Keywords}
}
