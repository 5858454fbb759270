package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/ai"

	"github.com/araddon/dateparse"
)

// TimeSource tells where the authoritative time of a fact came from.
type TimeSource string

const (
	TimeSourceText      TimeSource = "text"
	TimeSourceCreatedAt TimeSource = "created_at"
)

var (
	isoDate     = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	cjkDate     = regexp.MustCompile(`(\d{4})\s*年\s*(\d{1,2})\s*月(?:\s*(\d{1,2})\s*日)?`)
	englishDate = regexp.MustCompile(`(?i)\b(?:(\d{1,2})(?:st|nd|rd|th)?\s+)?(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?(?:\s+(\d{1,2})(?:st|nd|rd|th)?)?,?\s+(\d{4})\b`)

	historicalIntent = regexp.MustCompile(`(?i)\b(history|historical|historically|former|formerly|previous|previously|used to|originally|evolution|evolved?|in the past|over time|timeline)\b`)
	historicalCJK    = []string{"以前", "过去", "曾经", "历史", "原来", "之前", "演变"}
)

// ExplicitDate returns the most recent explicit calendar date written in
// text. Month precision dates resolve to the first day of the month.
func ExplicitDate(text string) (time.Time, bool) {
	var best time.Time
	found := false
	consider := func(t time.Time) {
		if !found || t.After(best) {
			best, found = t, true
		}
	}

	for _, m := range isoDate.FindAllStringSubmatch(text, -1) {
		if t, ok := civilDate(m[1], m[2], m[3]); ok {
			consider(t)
		}
	}
	for _, m := range cjkDate.FindAllStringSubmatch(text, -1) {
		day := m[3]
		if day == "" {
			day = "1"
		}
		if t, ok := civilDate(m[1], m[2], day); ok {
			consider(t)
		}
	}
	for _, m := range englishDate.FindAllStringSubmatch(text, -1) {
		day := m[1]
		if day == "" {
			day = m[3]
		}
		if day == "" {
			day = "1"
		}
		normalized := fmt.Sprintf("%s %s, %s", monthName(m[2]), day, m[4])
		t, err := dateparse.ParseIn(normalized, time.UTC)
		if err != nil {
			continue
		}
		consider(t)
	}
	return best, found
}

func civilDate(y, m, d string) (time.Time, bool) {
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(m)
	day, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// reject dates that time.Date normalized, e.g. 2023-02-30
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func monthName(s string) string {
	s = strings.ToLower(strings.TrimSuffix(s, "."))
	for m := time.January; m <= time.December; m++ {
		if strings.HasPrefix(strings.ToLower(m.String()), s[:3]) {
			return m.String()
		}
	}
	return s
}

// Authoritative returns the explicit date of text, falling back to
// createdAt when the text carries none.
func Authoritative(text string, createdAt time.Time) (time.Time, TimeSource) {
	if t, ok := ExplicitDate(text); ok {
		return t, TimeSourceText
	}
	return createdAt, TimeSourceCreatedAt
}

// IsHistorical reports whether question asks about former states rather
// than the current one.
func IsHistorical(question string) bool {
	if historicalIntent.MatchString(question) {
		return true
	}
	for _, kw := range historicalCJK {
		if strings.Contains(question, kw) {
			return true
		}
	}
	return false
}

// Directive is the temporal instruction for answering question.
func Directive(question string) string {
	if IsHistorical(question) {
		return ai.HistoricalDirective
	}
	return ai.CurrentStateDirective
}
