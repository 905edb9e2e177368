package selfmessages

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DateLayout is the YYYY-MM-DD form accepted for request dates.
const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseDate validates a YYYY-MM-DD calendar date.
func ParseDate(value string) (time.Time, error) {
	if !datePattern.MatchString(value) {
		return time.Time{}, fmt.Errorf("date %q is not in YYYY-MM-DD form", value)
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not a calendar date: %w", value, err)
	}
	return t, nil
}

// Validate checks both dates of the request.
func (r Request) Validate() error {
	if _, err := ParseDate(r.Start); err != nil {
		return newRunError(ErrorKindInvalidDate, "invalid start date", err)
	}
	if _, err := ParseDate(r.End); err != nil {
		return newRunError(ErrorKindInvalidDate, "invalid end date", err)
	}
	return nil
}

// BuildQuery builds the search.messages query for messages authored by userID.
//
// A single day uses on:. A range is widened by one day on each side because the
// after:/before: predicates are imprecise at day boundaries.
func BuildQuery(userID string, start, end time.Time) string {
	builder := strings.Builder{}
	builder.WriteString("from:<@")
	builder.WriteString(userID)
	builder.WriteString(">")

	if start.Equal(end) {
		builder.WriteString(" on:")
		builder.WriteString(start.Format(DateLayout))
		return builder.String()
	}

	builder.WriteString(" after:")
	builder.WriteString(start.AddDate(0, 0, -1).Format(DateLayout))
	builder.WriteString(" before:")
	builder.WriteString(end.AddDate(0, 0, 1).Format(DateLayout))
	return builder.String()
}
