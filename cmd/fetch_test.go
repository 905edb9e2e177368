package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/slackself/internal/selfmessages"
)

func sampleResult() *selfmessages.Result {
	return &selfmessages.Result{Buckets: map[string]selfmessages.Bucket{
		"random": {
			Kind: selfmessages.KindPublicChannel,
			Messages: []selfmessages.Message{
				{Date: "2024/06/01 09:00:00", Text: "see <https://example.com|the doc> :tada:"},
			},
		},
		"alice": {
			Kind: selfmessages.KindDM,
			Messages: []selfmessages.Message{
				{Date: "2024/06/01 10:00:00", Text: "ping <@U2|bob>"},
				{Date: "2024/06/02 11:30:00", Text: "line one\nline two"},
			},
		},
	}}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeText(&buf, sampleResult()))

	want := "## alice (dm, 2)\n" +
		"2024/06/01 10:00:00  ping @bob\n" +
		"2024/06/02 11:30:00  line one\n    line two\n" +
		"\n" +
		"## random (public_channel, 1)\n" +
		"2024/06/01 09:00:00  see the doc (https://example.com) :tada:\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeText(&buf, &selfmessages.Result{}))
	assert.Empty(t, buf.String())
	require.NoError(t, writeText(&buf, nil))
	assert.Empty(t, buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, sampleResult()))

	assert.JSONEq(t, `{
		"alice": {"channelType": "dm", "messages": [
			{"date": "2024/06/01 10:00:00", "message": "ping <@U2|bob>"},
			{"date": "2024/06/02 11:30:00", "message": "line one\nline two"}
		]},
		"random": {"channelType": "public_channel", "messages": [
			{"date": "2024/06/01 09:00:00", "message": "see <https://example.com|the doc> :tada:"}
		]}
	}`, buf.String())
	assert.Contains(t, buf.String(), "<https://example.com|the doc>")
}

func TestDescribeRunError(t *testing.T) {
	assert.Equal(t, "Dates must be YYYY-MM-DD", describeRunError(&selfmessages.RunError{Kind: selfmessages.ErrorKindInvalidDate}))
	assert.Equal(t, "Slack rejected the user token", describeRunError(&selfmessages.RunError{Kind: selfmessages.ErrorKindAuthFailed}))
	assert.Equal(t, "Interrupted", describeRunError(&selfmessages.RunError{Kind: selfmessages.ErrorKindCanceled}))
	assert.Contains(t, describeRunError(&selfmessages.RunError{Kind: selfmessages.ErrorKindSearchFailed, Detail: "ratelimited"}), "search_failed")
}

func TestRootRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["fetch"])
	assert.True(t, names["mcp-server"])
}

func TestOutputFormatFlag(t *testing.T) {
	var f outputFormat
	require.NoError(t, f.Set("TEXT"))
	assert.Equal(t, formatText, f)
	require.NoError(t, f.Set("json"))
	assert.Equal(t, "json", f.String())
	assert.Error(t, f.Set("csv"))
	assert.Equal(t, formatJSON, f)

	flag := fetchCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "format", flag.Value.Type())
	assert.Equal(t, "json", flag.DefValue)
}
