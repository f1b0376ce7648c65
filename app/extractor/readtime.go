package extractor

import (
	"strings"
)

// wordsPerMinute is the average adult silent-reading speed.
const wordsPerMinute = 238

// EstimateReadTime estimates reading time in whole minutes from plain
// text, with a floor of one minute.
func EstimateReadTime(text string) int {
	words := len(strings.Fields(text))
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}
