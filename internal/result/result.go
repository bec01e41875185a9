// Package result classifies the messages captured for one lookup and
// projects upstream summaries down to the fields users are allowed to see.
package result

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// Status is the terminal state of a lookup.
type Status string

const (
	StatusOK        Status = "OK"
	StatusNotFound  Status = "NOT_FOUND"
	StatusLimit     Status = "LIMIT"
	StatusFlood     Status = "FLOOD"
	StatusForbidden Status = "FORBIDDEN"
	StatusError     Status = "ERROR"
)

// SummaryMarker identifies the structured summary message among everything
// else the upstream sends.
const SummaryMarker = "📄 Краткая сводка"

var (
	fioRE   = regexp.MustCompile(`(?m)^ФИО:\s*(.+)$`)
	phoneRE = regexp.MustCompile(`(?m)^Телефон:\s*(.+)$`)
	emailRE = regexp.MustCompile(`(?m)^Email:\s*(.+)$`)
)

// Masker rewrites phone and email values before they reach users. The
// identity masker stands in until a real policy is provided.
type Masker interface {
	MaskPhone(string) string
	MaskEmail(string) string
}

type IdentityMasker struct{}

func (IdentityMasker) MaskPhone(s string) string { return s }
func (IdentityMasker) MaskEmail(s string) string { return s }

// Fields is what survives the safe projection of a summary. Any of them may
// be empty.
type Fields struct {
	FIO   string
	Phone string
	Email string
}

// ParseFields extracts the whitelisted lines from a summary text.
func ParseFields(text string) Fields {
	var f Fields
	if m := fioRE.FindStringSubmatch(text); m != nil {
		f.FIO = strings.TrimSpace(m[1])
	}
	if m := phoneRE.FindStringSubmatch(text); m != nil {
		f.Phone = strings.TrimSpace(m[1])
	}
	if m := emailRE.FindStringSubmatch(text); m != nil {
		f.Email = strings.TrimSpace(m[1])
	}
	return f
}

// Masked returns a copy with the masker applied to phone and email.
func (f Fields) Masked(m Masker) Fields {
	if f.Phone != "" {
		f.Phone = m.MaskPhone(f.Phone)
	}
	if f.Email != "" {
		f.Email = m.MaskEmail(f.Email)
	}
	return f
}

// Render reassembles the safe projection: the marker header followed by the
// fields that are present, in FIO, phone, email order.
func (f Fields) Render() string {
	lines := []string{SummaryMarker}
	if f.FIO != "" {
		lines = append(lines, "ФИО: "+f.FIO)
	}
	if f.Phone != "" {
		lines = append(lines, "Телефон: "+f.Phone)
	}
	if f.Email != "" {
		lines = append(lines, "Email: "+f.Email)
	}
	return strings.Join(lines, "\n")
}

// Project rebuilds the safe projection of a raw summary, dropping every line
// that is not FIO, phone or email and masking the latter two.
func Project(text string, m Masker) string {
	return ParseFields(text).Masked(m).Render()
}

// Outcome is the classified result of one lookup. Text carries the safe
// projection when Status is OK and is empty otherwise.
type Outcome struct {
	Status Status
	Text   string
	Fields Fields
}

// Classify inspects the captured messages in classification order: the
// upstream's daily-cap notice wins, then the latest summary, then an
// explicit no-match notice, otherwise ERROR. first is the initial reply;
// collected is the burst captured after the click, in upstream order.
func Classify(first string, collected []string, m Masker) Outcome {
	texts := collected
	if len(texts) == 0 && first != "" {
		texts = []string{first}
	}

	for i := len(texts) - 1; i >= 0; i-- {
		if IsLimitExhausted(texts[i]) {
			return Outcome{Status: StatusLimit}
		}
	}

	for i := len(texts) - 1; i >= 0; i-- {
		if strings.Contains(texts[i], SummaryMarker) {
			f := ParseFields(texts[i]).Masked(m)
			return Outcome{Status: StatusOK, Text: f.Render(), Fields: f}
		}
	}

	probe := first
	if strings.TrimSpace(probe) == "" && len(collected) > 0 {
		probe = collected[len(collected)-1]
	}
	if IsNotFound(probe) {
		return Outcome{Status: StatusNotFound}
	}

	return Outcome{Status: StatusError}
}

// IsLimitExhausted reports whether text is the upstream's daily-cap notice.
func IsLimitExhausted(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return strings.Contains(t, "лимит запросов") &&
		(strings.Contains(t, "исчерпан") || strings.Contains(t, "временно исчерпан"))
}

// IsNotFound reports whether text is the upstream's explicit no-match notice.
func IsNotFound(text string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(text)), "не найдено")
}

// CacheKey canonicalizes a query so that spacing and letter case variants of
// the same name share one cache entry.
func CacheKey(inn, fio string) string {
	folded := cases.Fold().String(strings.Join(strings.Fields(fio), " "))
	return "inn:" + strings.TrimSpace(inn) + "|fio:" + folded
}
