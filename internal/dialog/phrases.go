package dialog

import (
	"strings"
	"unicode"
)

var (
	confirmPhrases = []string{
		"yes", "y", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm", "confirmed",
		"do it", "go ahead", "proceed", "absolutely", "please do", "affirmative", "correct",
		"right", "that's right",
	}
	cancelPhrases = []string{
		"no", "n", "nope", "nah", "cancel", "stop", "don't", "do not", "abort",
		"never mind", "nevermind", "negative", "forget it", "wait",
	}
	firstOption  = []string{"first", "the first", "the first one", "first one", "1", "one", "the former", "former"}
	secondOption = []string{"second", "the second", "the second one", "second one", "2", "two", "the other", "the other one", "the latter", "latter"}
)

// normalizeReply lowercases text and turns punctuation other than apostrophes into spaces.
func normalizeReply(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == '\'' || r == '’' {
			return '\''
		}
		if unicode.IsPunct(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

// matchesAny reports whether reply equals a phrase or starts with it as a whole word.
func matchesAny(reply string, phrases []string) bool {
	for _, p := range phrases {
		if reply == p || strings.HasPrefix(reply, p+" ") {
			return true
		}
	}
	return false
}

func isCancel(reply string) bool  { return matchesAny(reply, cancelPhrases) }
func isConfirm(reply string) bool { return matchesAny(reply, confirmPhrases) }
