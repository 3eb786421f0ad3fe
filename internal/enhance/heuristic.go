package enhance

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxKeywords       = 10
	maxSceneKeywords  = 3
	sentencesPerScene = 2
	minKeywordLength  = 5
)

var sentenceEnd = regexp.MustCompile(`[^.!?]+[.!?]*`)

var stopWords = map[string]struct{}{
	"about": {}, "above": {}, "after": {}, "again": {}, "against": {}, "because": {}, "before": {},
	"being": {}, "below": {}, "between": {}, "could": {}, "doing": {}, "during": {}, "every": {},
	"further": {}, "having": {}, "their": {}, "there": {}, "these": {}, "they're": {}, "those": {},
	"through": {}, "under": {}, "until": {}, "where": {}, "which": {}, "while": {}, "would": {},
	"should": {}, "other": {}, "something": {}, "things": {}, "really": {}, "still": {}, "today": {},
	"always": {}, "never": {}, "without": {}, "within": {}, "yourself": {}, "ourselves": {},
}

// Heuristic is the offline enhancer: sentence grouping plus keyword extraction.
type Heuristic struct{}

func (Heuristic) Name() string { return "local" }

func (Heuristic) Enhance(_ context.Context, script string) (Result, error) {
	return analyze(strings.TrimSpace(script)), nil
}

func analyze(script string) Result {
	sentences := Sentences(script)
	res := Result{Script: script, Keywords: ExtractKeywords(script, maxKeywords)}
	for i := 0; i < len(sentences); i += sentencesPerScene {
		end := min(i+sentencesPerScene, len(sentences))
		text := strings.Join(sentences[i:end], " ")
		res.Scenes = append(res.Scenes, Scene{Text: text, Keywords: ExtractKeywords(text, maxSceneKeywords)})
	}
	if len(res.Scenes) == 0 && script != "" {
		res.Scenes = []Scene{{Text: script, Keywords: res.Keywords}}
	}
	return res
}

// Sentences splits text at terminal punctuation.
func Sentences(text string) []string {
	var out []string
	for _, m := range sentenceEnd.FindAllString(text, -1) {
		if s := strings.TrimSpace(m); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ExtractKeywords returns up to limit distinct content words in order of appearance.
func ExtractKeywords(text string, limit int) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, raw := range strings.Fields(text) {
		word := strings.ToLower(strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		}))
		if len([]rune(word)) < minKeywordLength {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
		if len(out) == limit {
			break
		}
	}
	return out
}

func normalizeKeywords(keywords []string, limit int) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		result = append(result, kw)
		if len(result) == limit {
			break
		}
	}
	return result
}
