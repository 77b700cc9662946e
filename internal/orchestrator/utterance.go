package orchestrator

import "strings"

// utteranceBuffer accumulates avatar speech fragments between utterance
// start and end. Fragments are trimmed and joined with a single space, except
// pure punctuation which attaches to the previous word.
type utteranceBuffer struct {
	text strings.Builder
}

func (u *utteranceBuffer) append(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}
	if u.text.Len() > 0 && !isPunctuation(fragment) {
		u.text.WriteByte(' ')
	}
	u.text.WriteString(fragment)
}

// flush returns the accumulated utterance and resets the buffer.
func (u *utteranceBuffer) flush() string {
	text := strings.TrimSpace(u.text.String())
	u.text.Reset()
	return text
}

func (u *utteranceBuffer) reset() {
	u.text.Reset()
}

func isPunctuation(fragment string) bool {
	for _, r := range fragment {
		switch r {
		case '.', ',', '!', '?':
		default:
			return false
		}
	}
	return fragment != ""
}
