package service

import (
	"regexp"
	"strings"
)

const minTranscriptLength = 10

var fillerPattern = regexp.MustCompile(`(?i)\b(background noise|unintelligible|inaudible)\b`)

// ValidateTranscript accepts a transcript that has at least ten characters after
// trimming and contains none of the filler phrases speech engines emit for silence.
func ValidateTranscript(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	if len([]rune(trimmed)) < minTranscriptLength {
		return false
	}
	return !fillerPattern.MatchString(trimmed)
}
