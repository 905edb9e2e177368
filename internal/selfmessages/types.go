package selfmessages

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// ConversationKind is the coarse classification of a conversation.
type ConversationKind string

const (
	KindPublicChannel  ConversationKind = "public_channel"
	KindPrivateChannel ConversationKind = "private_channel"
	KindGroupDM        ConversationKind = "group_dm"
	KindDM             ConversationKind = "dm"
	KindUnknown        ConversationKind = "unknown"
)

// ConversationRef is the conversation information attached to a search match.
type ConversationRef struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	IsIM      bool   `json:"is_im"`
	IsMPIM    bool   `json:"is_mpim"`
	IsPrivate bool   `json:"is_private"`
}

// SearchMatch is one message returned by search.messages.
type SearchMatch struct {
	Timestamp    string          `json:"ts"`
	Text         string          `json:"text"`
	Conversation ConversationRef `json:"channel"`
}

// ConversationLabel is the resolved identity of a conversation.
type ConversationLabel struct {
	DisplayName string           `json:"display_name"`
	Kind        ConversationKind `json:"kind"`
}

// ResolvedMatch pairs a match with the label of its conversation.
type ResolvedMatch struct {
	Match SearchMatch
	Label ConversationLabel
}

// Message is a single entry in a bucket.
type Message struct {
	Date string    `json:"date"`
	Text string    `json:"message"`
	At   time.Time `json:"-"`
}

// Bucket holds every selected message that resolved to one display name.
type Bucket struct {
	Kind     ConversationKind `json:"channelType"`
	Messages []Message        `json:"messages"`
}

// Result is the terminal output of one run, keyed by display name.
type Result struct {
	Buckets map[string]Bucket
}

// TotalMessages returns the number of messages across all buckets.
func (r *Result) TotalMessages() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, b := range r.Buckets {
		total += len(b.Messages)
	}
	return total
}

// MarshalJSON renders the result as a plain mapping of display name to bucket.
// Message text keeps Slack markup such as <@U123|name> unescaped.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r == nil || r.Buckets == nil {
		return []byte("{}"), nil
	}
	return EncodeJSON(r.Buckets)
}

// EncodeJSON marshals v without HTML escaping. Payloads that embed a Result
// must use it, since json.Marshal escapes the Result's own output again.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UserProfile carries the name fields used to label DMs and group DMs.
type UserProfile struct {
	DisplayName string
	RealName    string
	AccountName string
}

// Name applies the display name > real name > account name fallback chain.
func (p *UserProfile) Name() string {
	if p == nil {
		return unknownUser
	}
	for _, candidate := range []string{p.DisplayName, p.RealName, p.AccountName} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return unknownUser
}

// SearchPage is a single page of search.messages results.
type SearchPage struct {
	Matches []SearchMatch
	Total   int
}

// Type filter values accepted from callers.
const (
	TypeChannel = "channel"
	TypeGroupDM = "group_dm"
	TypeDM      = "dm"
)

// DefaultTypes is used when the caller does not select any type.
var DefaultTypes = []string{TypeChannel, TypeGroupDM, TypeDM}

// Selection is the caller's type filter. Public and private channels share one toggle.
type Selection struct {
	Channels bool
	GroupDMs bool
	DMs      bool
}

// ParseSelection builds a Selection from filter values such as "channel,dm".
// Unknown values are ignored and an empty input selects everything.
func ParseSelection(values []string) Selection {
	var sel Selection
	seen := false
	for _, raw := range values {
		for _, v := range strings.Split(raw, ",") {
			switch strings.TrimSpace(v) {
			case TypeChannel:
				sel.Channels, seen = true, true
			case TypeGroupDM:
				sel.GroupDMs, seen = true, true
			case TypeDM:
				sel.DMs, seen = true, true
			case "":
			default:
				seen = true
			}
		}
	}
	if !seen {
		return Selection{Channels: true, GroupDMs: true, DMs: true}
	}
	return sel
}

// Includes reports whether messages from a conversation of the given kind are kept.
func (s Selection) Includes(kind ConversationKind) bool {
	switch kind {
	case KindPublicChannel, KindPrivateChannel:
		return s.Channels
	case KindGroupDM:
		return s.GroupDMs
	case KindDM:
		return s.DMs
	default:
		return false
	}
}

// Labels returns human readable names of the selected types in a fixed order.
func (s Selection) Labels() []string {
	labels := make([]string, 0, 3)
	if s.Channels {
		labels = append(labels, "channels")
	}
	if s.GroupDMs {
		labels = append(labels, "group DMs")
	}
	if s.DMs {
		labels = append(labels, "DMs")
	}
	return labels
}

// Request is one aggregation request.
type Request struct {
	Start string
	End   string
	Types Selection
}
