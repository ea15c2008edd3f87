package verifier

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseVerdict turns raw judge output into a well-formed Verdict. Extraction
// is tiered: direct parse, then the first fenced code block, then the
// substring between the first '{' and the last '}'. If nothing parses, the
// result is a heuristic fail naming the parse failure. Never returns an error.
func parseVerdict(raw string) Verdict {
	text := strings.TrimSpace(raw)

	if v, ok := tryParse(text); ok {
		return v
	}
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		if v, ok := tryParse(m[1]); ok {
			return v
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if v, ok := tryParse(text[start : end+1]); ok {
			return v
		}
	}

	v := Verdict{
		Verdict:    VerdictFail,
		Confidence: 0,
		Reason:     "Verifier output could not be parsed as JSON",
	}
	v.normalize()
	return v
}

func tryParse(text string) (Verdict, bool) {
	var v Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return Verdict{}, false
	}
	v.normalize()
	return v, true
}
