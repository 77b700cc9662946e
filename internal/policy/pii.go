// Package policy redacts personal data from events before they leave the
// process.
package policy

import (
	"regexp"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
	phonePattern = regexp.MustCompile(`(?:\+?\d[\d()\-\s.]{7,}\d)`)
)

// MaskPII replaces emails, card numbers and phone numbers in value.
func MaskPII(value string) string {
	masked := emailPattern.ReplaceAllString(value, "[email_redacted]")
	masked = cardPattern.ReplaceAllStringFunc(masked, maskCardNumber)
	masked = phonePattern.ReplaceAllString(masked, "[phone_redacted]")
	return masked
}

// RedactEvent masks transcript text. Other events pass through unchanged.
func RedactEvent(event domain.Event) domain.Event {
	if event.Transcript != nil {
		line := *event.Transcript
		line.Text = MaskPII(line.Text)
		event.Transcript = &line
	}
	return event
}

func maskCardNumber(value string) string {
	digits := make([]rune, 0, len(value))
	for _, char := range value {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	if len(digits) < 8 {
		return "[card_redacted]"
	}
	return "**** **** **** " + string(digits[len(digits)-4:])
}
