package selfmessages

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DisplayLayout is the layout used for message dates in results.
const DisplayLayout = "2006/01/02 15:04:05"

// ParseTimestamp converts a Slack "seconds.micros" timestamp into a time.Time.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	secondsPart, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secondsPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}

	var nsec int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nsec, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
	}

	return time.Unix(sec, nsec).UTC(), nil
}

// FormatDisplay renders t as a local calendar and clock string.
func FormatDisplay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DisplayLayout)
}
