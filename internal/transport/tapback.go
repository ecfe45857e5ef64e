package transport

import "strings"

// tapbackPrefixes are the notification shapes the chat server renders
// for tapback reactions, each followed by the quoted target text.
var tapbackPrefixes = []string{
	"Liked ",
	"Loved ",
	"Disliked ",
	"Laughed at ",
	"Emphasized ",
	"Questioned ",
}

// quoteDelims are the quote code points that may wrap the target
// text: straight (U+0022) and curly (U+201C, U+201D) double quotes.
var quoteDelims = []rune{'"', '“', '”'}

// IsTapbackText reports whether text looks like a tapback reaction
// notification ("Liked ⟨quoted⟩", "Loved …", "Reacted ⟨emoji⟩ to …").
func IsTapbackText(text string) bool {
	for _, prefix := range tapbackPrefixes {
		if rest, ok := strings.CutPrefix(text, prefix); ok && startsWithQuote(rest) {
			return true
		}
	}

	// Emoji tapbacks render as "Reacted ⟨emoji⟩ to ⟨quoted⟩".
	if rest, ok := strings.CutPrefix(text, "Reacted "); ok {
		if _, after, found := strings.Cut(rest, " to "); found && startsWithQuote(after) {
			return true
		}
	}

	return false
}

func startsWithQuote(s string) bool {
	for _, r := range s {
		for _, q := range quoteDelims {
			if r == q {
				return true
			}
		}
		return false
	}
	return false
}
