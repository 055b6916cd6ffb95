// internal/flow/classifier.go
package flow

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"cashback-bot/internal/models"
)

// Intent is the classifier's verdict on a free-text message.
type Intent int

const (
	IntentUnrecognized Intent = iota
	IntentQuestion
	IntentSubstantive
	IntentAck
	IntentPayoutTag
	IntentPayoutTagMalformed
)

const tagMarker = '#'

// Genitive month names, the only form the payout tag accepts.
const monthNames = `января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря`

// Classifier maps raw text to an intent. Classification order is fixed and
// first-match-wins: question, then length, then acknowledgement word, then
// payout tag (full, then partial), then the fallback. It always produces
// exactly one outcome.
type Classifier struct {
	tagRe       *regexp.Regexp
	ackWords    map[string]struct{}
	longTextMin int
}

func NewClassifier(payoutMarker string, ackWords []string, longTextMin int) *Classifier {
	words := make(map[string]struct{}, len(ackWords))
	for _, w := range ackWords {
		words[normalizeWord(w)] = struct{}{}
	}
	return &Classifier{
		tagRe:       regexp.MustCompile(`(?i)^#` + regexp.QuoteMeta(payoutMarker) + `_\d{1,2}_(?:` + monthNames + `)$`),
		ackWords:    words,
		longTextMin: longTextMin,
	}
}

func (c *Classifier) Classify(text string) Intent {
	trimmed := strings.TrimSpace(text)
	if strings.ContainsRune(trimmed, '?') {
		return IntentQuestion
	}
	if utf8.RuneCountInString(trimmed) > c.longTextMin {
		return IntentSubstantive
	}
	if _, ok := c.ackWords[normalizeWord(trimmed)]; ok {
		return IntentAck
	}
	// The tag must equal the pattern in full; any other use of the marker
	// gets a format correction.
	if c.tagRe.MatchString(trimmed) {
		return IntentPayoutTag
	}
	if strings.ContainsRune(trimmed, tagMarker) {
		return IntentPayoutTagMalformed
	}
	return IntentUnrecognized
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// ButtonAnswer is a structured button payload mapped onto a step.
type ButtonAnswer struct {
	Step models.Step
	Yes  bool
}

// ButtonData builds the callback payload for a step button.
func ButtonData(step models.Step, yes bool) string {
	if yes {
		return string(step) + "_yes"
	}
	return string(step) + "_no"
}

// ParseButton maps a callback payload back to (step, yes/no).
func ParseButton(payload string) (ButtonAnswer, bool) {
	i := strings.LastIndexByte(payload, '_')
	if i < 0 {
		return ButtonAnswer{}, false
	}
	step := models.Step(payload[:i])
	if _, ok := stepState[step]; !ok {
		return ButtonAnswer{}, false
	}
	switch payload[i+1:] {
	case "yes":
		return ButtonAnswer{Step: step, Yes: true}, true
	case "no":
		return ButtonAnswer{Step: step, Yes: false}, true
	}
	return ButtonAnswer{}, false
}
