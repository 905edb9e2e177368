package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMixedMessage(t *testing.T) {
	text := "hi <@U123|alice> see <https://example.com/a|the doc> and <https://example.com/b> :tada: done"
	segs := Parse(text)

	require.Len(t, segs, 9)
	assert.Equal(t, Segment{Kind: KindText, Raw: "hi "}, segs[0])
	assert.Equal(t, Segment{Kind: KindMention, Raw: "<@U123|alice>", UserID: "U123", Username: "alice"}, segs[1])
	assert.Equal(t, Segment{Kind: KindLink, Raw: "<https://example.com/a|the doc>", URL: "https://example.com/a", Label: "the doc"}, segs[3])
	assert.Equal(t, Segment{Kind: KindLink, Raw: "<https://example.com/b>", URL: "https://example.com/b", Label: "https://example.com/b"}, segs[5])
	assert.Equal(t, Segment{Kind: KindEmoji, Raw: ":tada:", Emoji: "tada"}, segs[7])
	assert.Equal(t, Segment{Kind: KindText, Raw: " done"}, segs[8])

	var rebuilt strings.Builder
	for _, s := range segs {
		rebuilt.WriteString(s.Raw)
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestParseLeavesUnsupportedMarkupAsText(t *testing.T) {
	for _, text := range []string{
		"plain words",
		"<@U123> without label",
		"<http://insecure.example.com>",
		"<#C123|general>",
		"ratio 3:2",
		":Upper:",
	} {
		segs := Parse(text)
		require.Len(t, segs, 1, text)
		assert.Equal(t, KindText, segs[0].Kind, text)
	}
}

func TestParseEmpty(t *testing.T) {
	assert.Empty(t, Parse(""))
}

func TestParseAdjacentTokens(t *testing.T) {
	segs := Parse(":+1::white_check_mark:")
	require.Len(t, segs, 2)
	assert.Equal(t, "+1", segs[0].Emoji)
	assert.Equal(t, "white_check_mark", segs[1].Emoji)
}

func TestPlain(t *testing.T) {
	got := Plain("ping <@U1|bob>: <https://x.test|docs> <https://y.test> :wave:")
	assert.Equal(t, "ping @bob: docs (https://x.test) https://y.test :wave:", got)
}

func TestRenderCustomStyle(t *testing.T) {
	got := Render("<@U1|bob> :wave:", func(s Segment) string {
		return "[" + string(s.Kind) + "]"
	})
	assert.Equal(t, "[mention] [emoji]", got)
}
