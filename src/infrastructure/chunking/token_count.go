package chunking

import (
	"strings"
	"unicode"
)

// EstimateTokenCount approximates the WordPiece token count of text,
// including the two boundary tokens an encoder adds. It is a heuristic for
// sizing chunks, not a tokenizer: short words count as one token, longer
// words as one per four bytes and numbers as one per character.
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	count := 2
	for _, word := range strings.Fields(text) {
		count += estimateWordTokens(word)
	}
	return count
}

func estimateWordTokens(word string) int {
	if len(word) == 1 && unicode.IsPunct(rune(word[0])) {
		return 1
	}
	if isNumber(word) {
		return len(word)
	}
	if len(word) <= 4 {
		return 1
	}
	return (len(word) + 3) / 4
}

func isNumber(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	return true
}
