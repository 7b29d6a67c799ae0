package domain

import "strings"

// IsStopMessage reports whether msg describes a manual stop or interruption.
//
// The runtime reports stops and failures through the same free-text field, so
// this is a substring match. An error whose text merely contains "stopped" is
// classified as a stop.
func IsStopMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, PhraseStopped) || strings.Contains(lower, PhraseInterrupted)
}

// IsRuntimeUnreachable reports whether msg says the runtime cannot be reached.
func IsRuntimeUnreachable(msg string) bool {
	return strings.Contains(strings.ToLower(msg), PhraseRuntimeUnreachable)
}

// SeverityFor classifies an error message: stops are informational, everything else is an error.
func SeverityFor(msg string) Severity {
	if IsStopMessage(msg) {
		return SeverityInfo
	}
	return SeverityError
}
