package gate

import "strings"

// searchPrefixes are the interrogative shapes that earn a pre-emptive
// acknowledgment: the question is probably about to trigger a search
// or a delegation, and silence until then feels broken. The exact list
// is tuning, not contract.
var searchPrefixes = []string{
	"who ", "who's ", "whos ",
	"what ", "what's ", "whats ",
	"when ", "when's ", "whens ",
	"where ", "where's ", "wheres ",
	"why ", "why's ",
	"how ", "how's ", "hows ",
	"which ",
	"can you ",
	"could you ",
	"is there ",
	"are there ",
	"do you ",
	"does ",
}

// looksLikeSearchQuery reports whether text has the shape of a
// question that will take a while to answer.
func looksLikeSearchQuery(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}

	for _, prefix := range searchPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}

	return strings.HasSuffix(lower, "?")
}

// normalizeText canonicalizes text for echo comparison: trimmed,
// whitespace collapsed, lowercased.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
