package generate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Sure! Here you go: {\"a\":1} Enjoy.", `{"a":1}`},
		{"array", "```\n[\"x\", \"y\"]\n```", `["x", "y"]`},
		{"no json", "just text", "just text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{
			name:  "object",
			reply: `{"suggestions": ["Hi Ana!", "Hello!", "Hey there"]}`,
			want:  []string{"Hi Ana!", "Hello!", "Hey there"},
		},
		{
			name:  "fenced array",
			reply: "```json\n[\"one\", \" \", \"two\"]\n```",
			want:  []string{"one", "two"},
		},
		{
			name:  "numbered lines",
			reply: "Here are some ideas:\n1. \"Hi Ana, could you help?\"\n2) Hello neighbor!\n- Hey, thanks!",
			want:  []string{"Hi Ana, could you help?", "Hello neighbor!", "Hey, thanks!"},
		},
		{
			name:  "broken json salvaged",
			reply: "{\"suggestions\": [\n\"First one\",\n\"Second one\",\n",
			want:  []string{"First one", "Second one"},
		},
		{
			name:  "nothing",
			reply: "```\n```",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseList(tt.reply, "suggestions"))
		})
	}
}

func TestCheckTranslation(t *testing.T) {
	assert.NoError(t, CheckTranslation("hello", "", "es"))
	assert.NoError(t, CheckTranslation("hello", "auto", "ES"))
	assert.NoError(t, CheckTranslation("hello", "en", "fr"))

	assert.ErrorIs(t, CheckTranslation("hello", "en", "xx"), ErrUnsupportedLanguage)
	assert.ErrorIs(t, CheckTranslation("hello", "xx", "en"), ErrUnsupportedLanguage)
	assert.ErrorIs(t, CheckTranslation(strings.Repeat("a", MaxTranslateLength+1), "en", "es"), ErrTextTooLong)
	assert.NoError(t, CheckTranslation(strings.Repeat("é", MaxTranslateLength), "en", "es"))
}

func TestTooShort(t *testing.T) {
	assert.True(t, TooShort(""))
	assert.True(t, TooShort(" a "))
	assert.False(t, TooShort("hi"))
	assert.False(t, TooShort("日本"))
}
