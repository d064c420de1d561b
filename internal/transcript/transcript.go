package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
)

// ParseSpeaker maps a provider role name onto a Speaker. Unknown roles are
// reported as not ok.
func ParseSpeaker(role string) (Speaker, bool) {
	switch s := Speaker(strings.ToLower(strings.TrimSpace(role))); s {
	case SpeakerUser, SpeakerAssistant, SpeakerSystem:
		return s, true
	case "bot", "agent":
		return SpeakerAssistant, true
	default:
		return "", false
	}
}

// Utterance is one finalized speech turn.
type Utterance struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Event is a transcription update from the voice service. Only final events
// become utterances.
type Event struct {
	Final   bool
	Speaker Speaker
	Text    string
}

// Recorder accumulates utterances in arrival order until it is frozen.
type Recorder struct {
	mu         sync.Mutex
	utterances []Utterance
	frozen     bool
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends a final, non-empty event and reports whether it was kept.
func (r *Recorder) Record(ev Event) bool {
	if !ev.Final {
		return false
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return false
	}
	speaker, ok := ParseSpeaker(string(ev.Speaker))
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return false
	}
	r.utterances = append(r.utterances, Utterance{Speaker: speaker, Text: text})
	return true
}

// Freeze stops further appends and returns the final transcript.
func (r *Recorder) Freeze() []Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	return append([]Utterance(nil), r.utterances...)
}

// Utterances returns a copy of the transcript so far.
func (r *Recorder) Utterances() []Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.utterances) == 0 {
		return nil
	}
	return append([]Utterance(nil), r.utterances...)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.utterances)
}

// Format flattens utterances into the block submitted for scoring, one
// "- <speaker>: <text>" line per utterance.
func Format(utterances []Utterance) string {
	var b strings.Builder
	for _, u := range utterances {
		fmt.Fprintf(&b, "- %s: %s\n", u.Speaker, u.Text)
	}
	return b.String()
}

// FormatMarkdown renders a transcript for the on-disk archive.
func FormatMarkdown(title string, at time.Time, utterances []Utterance) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "_%s_\n\n", at.UTC().Format(time.RFC3339))
	if len(utterances) == 0 {
		b.WriteString("No utterances were captured.\n")
		return b.String()
	}
	for _, u := range utterances {
		fmt.Fprintf(&b, "**%s:** %s\n\n", displayName(u.Speaker), u.Text)
	}
	return b.String()
}

func displayName(s Speaker) string {
	switch s {
	case SpeakerAssistant:
		return "Interviewer"
	case SpeakerUser:
		return "Candidate"
	default:
		return "System"
	}
}
