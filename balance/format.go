package balance

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Format renders n with the digit grouping of tag, e.g. "12 345" for fr.
func Format(tag language.Tag, n int64) string {
	return message.NewPrinter(tag).Sprintf("%d", n)
}
