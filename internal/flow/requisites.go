// internal/flow/requisites.go
package flow

import (
	"regexp"
	"unicode"
	"unicode/utf8"

	"cashback-bot/internal/models"
)

// The extractor is deterministic and regex-based; the language model only
// annotates, it never overrides these matches. RE2 has no lookarounds or
// backreferences, so boundary conditions are checked on the rune level after
// each candidate match, and the grouped card form enumerates its separator
// variants explicitly.
var (
	cardRe  = regexp.MustCompile(`\d{4} \d{4} \d{4} \d{4}|\d{4}-\d{4}-\d{4}-\d{4}|\d{16}`)
	phoneRe = regexp.MustCompile(`(?:\+7|[78])?[\s(-]*\d{3}[\s)-]*\d{3}[\s-]*\d{2}[\s-]*\d{2}`)

	// Group 1 is the numeric part, group 2 the optional currency suffix.
	amountRe = regexp.MustCompile(`(?i)(\d{1,6}(?:[.,]\d{1,2})?)(\s?(?:рублей|рубля|руб\.?|р\.?|₽))?`)

	// Longer variants first: alternation is tried in order at each position.
	bankRe = regexp.MustCompile(`(?i)сбербанка|сбербанк|сбера|сбер|тинькофф|т-банк|тбанк|альфа-банк|альфабанк|альфа|втб|газпромбанк|райффайзенбанк|райффайзен|россельхозбанк|росбанк|совкомбанк|промсвязьбанк|псб|почта банк|мтс банк|озон банк|озон|яндекс банк|открытие|уралсиб|хоум кредит`)
)

// ExtractedRequisites is the result of one extraction pass. Each field is
// independent; empty means "not found in this message".
type ExtractedRequisites struct {
	Card   string
	Phone  string
	Amount string
	Bank   string
}

// Empty reports whether the pass found nothing at all.
func (e ExtractedRequisites) Empty() bool {
	return e.Card == "" && e.Phone == "" && e.Amount == "" && e.Bank == ""
}

func (e ExtractedRequisites) fields() map[models.RequisiteField]string {
	return map[models.RequisiteField]string{
		models.FieldCard:   e.Card,
		models.FieldPhone:  e.Phone,
		models.FieldAmount: e.Amount,
		models.FieldBank:   e.Bank,
	}
}

// ExtractRequisites pulls card, phone, amount and bank out of a raw text
// line. Only the first match of each kind is taken, exactly as written —
// normalization is the caller's concern.
func ExtractRequisites(text string) ExtractedRequisites {
	return ExtractedRequisites{
		Card:   extractDigitRun(cardRe, text),
		Phone:  extractDigitRun(phoneRe, text),
		Amount: extractAmount(text),
		Bank:   extractBank(text),
	}
}

// extractDigitRun returns the first candidate delimited by non-digits on
// both sides.
func extractDigitRun(re *regexp.Regexp, text string) string {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		before, _ := prevRunes(text, loc[0])
		after, _ := nextRunes(text, loc[1])
		if unicode.IsDigit(before) || unicode.IsDigit(after) {
			continue
		}
		return text[loc[0]:loc[1]]
	}
	return ""
}

// extractAmount rejects candidates whose digits sit next to another digit,
// directly or across a single separator, so fragments of phone or card
// numbers never read as amounts. A currency suffix already breaks adjacency
// on the right.
func extractAmount(text string) string {
	for _, m := range amountRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		numEnd := m[3]
		hasCurrency := m[4] >= 0
		if digitAdjacent(prevRunes(text, start)) {
			continue
		}
		if !hasCurrency && digitAdjacent(nextRunes(text, numEnd)) {
			continue
		}
		return text[start:end]
	}
	return ""
}

// extractBank matches the bank vocabulary with manual word boundaries:
// RE2's \b is ASCII-only and never fires between Cyrillic letters.
func extractBank(text string) string {
	for _, loc := range bankRe.FindAllStringIndex(text, -1) {
		before, _ := prevRunes(text, loc[0])
		after, _ := nextRunes(text, loc[1])
		if unicode.IsLetter(before) || unicode.IsDigit(before) {
			continue
		}
		if unicode.IsLetter(after) || unicode.IsDigit(after) {
			continue
		}
		return text[loc[0]:loc[1]]
	}
	return ""
}

func digitAdjacent(r1, r2 rune) bool {
	if unicode.IsDigit(r1) {
		return true
	}
	return (r1 == ' ' || r1 == '-') && unicode.IsDigit(r2)
}

// prevRunes returns the two runes ending at byte offset i, nearest first.
// Zero runes stand in for "outside the string".
func prevRunes(s string, i int) (rune, rune) {
	if i <= 0 {
		return 0, 0
	}
	r1, n := utf8.DecodeLastRuneInString(s[:i])
	if i-n <= 0 {
		return r1, 0
	}
	r2, _ := utf8.DecodeLastRuneInString(s[:i-n])
	return r1, r2
}

// nextRunes returns the two runes starting at byte offset i, nearest first.
func nextRunes(s string, i int) (rune, rune) {
	if i >= len(s) {
		return 0, 0
	}
	r1, n := utf8.DecodeRuneInString(s[i:])
	if i+n >= len(s) {
		return r1, 0
	}
	r2, _ := utf8.DecodeRuneInString(s[i+n:])
	return r1, r2
}
