package parser

import (
	"testing"

	"github.com/HerbHall/pushlink/internal/pushover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExtractKV(t *testing.T) {
	tests := []struct {
		name string
		body string
		want map[string]string
	}{
		{
			name: "single pair",
			body: "type=alert",
			want: map[string]string{"type": "alert"},
		},
		{
			name: "multiple lines",
			body: "type=alert\nlevel=critical",
			want: map[string]string{"type": "alert", "level": "critical"},
		},
		{
			name: "prose lines ignored",
			body: "The garage door is open.\nlevel=critical\nPlease check.",
			want: map[string]string{"level": "critical"},
		},
		{
			name: "no equals sign",
			body: "nothing to see here",
			want: map[string]string{},
		},
		{
			name: "multiple equals is ambiguous",
			body: "formula=a=b",
			want: map[string]string{},
		},
		{
			name: "empty key ignored",
			body: "=value\n  =value2",
			want: map[string]string{},
		},
		{
			name: "whitespace trimmed",
			body: "  level =  critical  ",
			want: map[string]string{"level": "critical"},
		},
		{
			name: "empty value kept",
			body: "flag=",
			want: map[string]string{"flag": ""},
		},
		{
			name: "last occurrence wins",
			body: "level=low\nlevel=critical",
			want: map[string]string{"level": "critical"},
		},
		{
			name: "empty body",
			body: "",
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractKV(tt.body))
		})
	}
}

func TestDecode(t *testing.T) {
	raw := []byte(`{"id":123456,"title":"Alert","message":"type=alert","app":"BlueIris","priority":1}`)
	msg, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "123456", msg.ID)
	assert.Equal(t, "Alert", msg.Title)
	assert.Equal(t, "type=alert", msg.Body)
	assert.Equal(t, "BlueIris", msg.App)
	assert.Equal(t, pushover.PriorityHigh, msg.Priority)
	assert.Equal(t, "BlueIris", msg.Raw["app"])
}

func TestDecodeStringID(t *testing.T) {
	msg, err := Decode([]byte(`{"id":"123456","title":"Alert"}`))
	require.NoError(t, err)
	assert.Equal(t, "123456", msg.ID)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{{{`},
		{name: "missing id", raw: `{"title":"Alert"}`},
		{name: "json array", raw: `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			var decodeErr *DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestMergeDropsReservedCollisions(t *testing.T) {
	logger := zaptest.NewLogger(t)
	msg := pushover.Message{ID: "1", Title: "Alert", Body: "message=spoofed\nlevel=critical"}

	parsed := Merge(msg, ExtractKV(msg.Body), logger)

	// The original body-derived message field is unchanged; the colliding
	// pair is dropped, not applied.
	assert.Equal(t, "message=spoofed\nlevel=critical", parsed.Body)
	assert.Equal(t, map[string]string{"level": "critical"}, parsed.Extracted)

	fields := parsed.Fields()
	assert.Equal(t, msg.Body, fields["message"])
	assert.Equal(t, "critical", fields["level"])
}

func TestParseEndToEnd(t *testing.T) {
	logger := zaptest.NewLogger(t)
	raw := []byte(`{"id":"123456","title":"Alert","app":"BlueIris","message":"type=alert\nlevel=critical\nmessage=Garage door open"}`)

	parsed, err := Parse(raw, logger)
	require.NoError(t, err)

	fields := parsed.Fields()
	assert.Equal(t, "123456", fields["id"])
	assert.Equal(t, "Alert", fields["title"])
	assert.Equal(t, "BlueIris", fields["app"])
	assert.Equal(t, "alert", fields["type"])
	assert.Equal(t, "critical", fields["level"])
	// The message=... line collides with the reserved field and is dropped;
	// the original body survives.
	assert.Equal(t, "type=alert\nlevel=critical\nmessage=Garage door open", fields["message"])
}

func TestReserved(t *testing.T) {
	for _, key := range []string{"id", "title", "message", "app", "priority"} {
		assert.True(t, Reserved(key), key)
	}
	assert.False(t, Reserved("level"))
}
