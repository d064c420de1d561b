package deepgram

import "strings"

type word struct {
	Text string
}

// utteranceBuffer accumulates words from multiple is_final Deepgram messages
// until speech_final signals the utterance is complete.
type utteranceBuffer struct {
	words []word
}

func (b *utteranceBuffer) add(words []word) {
	b.words = append(b.words, words...)
}

// flush joins the buffered words into one utterance and resets the buffer.
func (b *utteranceBuffer) flush() string {
	if len(b.words) == 0 {
		return ""
	}
	parts := make([]string, 0, len(b.words))
	for _, w := range b.words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}
	b.words = nil
	return strings.Join(parts, " ")
}

func (b *utteranceBuffer) len() int {
	return len(b.words)
}
