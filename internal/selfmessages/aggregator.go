package selfmessages

import (
	"sort"
	"time"
)

// Aggregate keeps the matches whose kind is selected, groups them by display name and
// sorts every bucket by message time. Distinct conversations sharing a display name
// share a bucket; the bucket keeps the kind of the first match that created it.
func Aggregate(matches []ResolvedMatch, sel Selection, loc *time.Location) *Result {
	buckets := make(map[string]Bucket)
	for _, rm := range matches {
		if !sel.Includes(rm.Label.Kind) {
			continue
		}
		name := rm.Label.DisplayName
		bucket, ok := buckets[name]
		if !ok {
			bucket = Bucket{Kind: rm.Label.Kind}
		}
		bucket.Messages = append(bucket.Messages, toMessage(rm.Match, loc))
		buckets[name] = bucket
	}

	for name, bucket := range buckets {
		sort.SliceStable(bucket.Messages, func(i, j int) bool {
			return bucket.Messages[i].At.Before(bucket.Messages[j].At)
		})
		buckets[name] = bucket
	}

	return &Result{Buckets: buckets}
}

func toMessage(m SearchMatch, loc *time.Location) Message {
	at, err := ParseTimestamp(m.Timestamp)
	if err != nil {
		return Message{Date: m.Timestamp, Text: m.Text}
	}
	return Message{Date: FormatDisplay(at, loc), Text: m.Text, At: at}
}
