package tts

import (
	"strings"
)

// CleanText trims the text and collapses runs of whitespace so providers
// are not billed for layout.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
