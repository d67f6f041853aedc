// Package speech turns trigger-prefixed chat messages into synthesized
// audio: prefix matching, a provider interface with an ElevenLabs
// implementation, and a queue that plays one message at a time.
package speech

import "strings"

// Trigger matches messages that ask to be read aloud. The prefix comparison
// is case-insensitive; the spoken text is what follows the prefix, trimmed.
type Trigger struct {
	Prefix string
}

// Match reports whether text carries the trigger prefix and returns the
// payload to speak. A prefix with nothing behind it does not match.
func (t Trigger) Match(text string) (string, bool) {
	if t.Prefix == "" {
		return "", false
	}
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	prefix := strings.ToLower(t.Prefix)
	if !strings.HasPrefix(lower, prefix) {
		return "", false
	}
	rest := strings.TrimSpace(trimmed[len(prefix):])
	if rest == "" {
		return "", false
	}
	return rest, true
}
