// Package markup tokenizes the Slack mrkdwn found in message text into
// plain text, user mentions, links and emoji shortcodes.
package markup

import (
	"regexp"
	"strings"
)

// Kind identifies a segment.
type Kind string

const (
	KindText    Kind = "text"
	KindMention Kind = "mention"
	KindLink    Kind = "link"
	KindEmoji   Kind = "emoji"
)

// Segment is one token of a message. Raw always holds the exact source text.
type Segment struct {
	Kind     Kind   `json:"type"`
	Raw      string `json:"content"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	URL      string `json:"url,omitempty"`
	Label    string `json:"label,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
}

// Alternatives are tried in order: labelled mention, labelled link, bare link, emoji.
var tokenPattern = regexp.MustCompile(`(<@([^|>]+)\|([^>]+)>)|(<(https://[^|>]+)\|([^>]+)>)|(<(https://[^>]+)>)|(:([a-z0-9_+-]+):)`)

// Parse splits text into segments. Concatenating the Raw fields yields text.
func Parse(text string) []Segment {
	var segments []Segment
	last := 0

	for _, m := range tokenPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if start > last {
			segments = append(segments, Segment{Kind: KindText, Raw: text[last:start]})
		}

		group := func(n int) string {
			if m[2*n] < 0 {
				return ""
			}
			return text[m[2*n]:m[2*n+1]]
		}

		switch {
		case m[2] >= 0:
			segments = append(segments, Segment{Kind: KindMention, Raw: group(1), UserID: group(2), Username: group(3)})
		case m[8] >= 0:
			segments = append(segments, Segment{Kind: KindLink, Raw: group(4), URL: group(5), Label: group(6)})
		case m[14] >= 0:
			url := group(8)
			segments = append(segments, Segment{Kind: KindLink, Raw: group(7), URL: url, Label: url})
		case m[18] >= 0:
			segments = append(segments, Segment{Kind: KindEmoji, Raw: group(9), Emoji: group(10)})
		}
		last = end
	}

	if last < len(text) {
		segments = append(segments, Segment{Kind: KindText, Raw: text[last:]})
	}
	return segments
}

// Render rebuilds text, passing every non-text segment through fn.
func Render(text string, fn func(Segment) string) string {
	var b strings.Builder
	for _, seg := range Parse(text) {
		if seg.Kind == KindText || fn == nil {
			b.WriteString(seg.Raw)
			continue
		}
		b.WriteString(fn(seg))
	}
	return b.String()
}

// Plain renders mentions as @name and links by their label.
func Plain(text string) string {
	return Render(text, func(seg Segment) string {
		switch seg.Kind {
		case KindMention:
			return "@" + seg.Username
		case KindLink:
			if seg.Label == seg.URL {
				return seg.URL
			}
			return seg.Label + " (" + seg.URL + ")"
		default:
			return seg.Raw
		}
	})
}
