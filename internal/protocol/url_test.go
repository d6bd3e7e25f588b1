// ABOUTME: Tests for gateway URL normalisation and intents parsing
// ABOUTME: Verifies default query parameters, scheme mapping and intent presets

package protocol

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		encoding string
		version  string
		wantQ    url.Values
		wantHost string
		scheme   string
	}{
		{
			name:     "adds defaults",
			raw:      "wss://gateway.fluxer.app",
			wantQ:    url.Values{"encoding": {"json"}, "v": {"1"}},
			wantHost: "gateway.fluxer.app",
			scheme:   "wss",
		},
		{
			name:     "keeps existing params",
			raw:      "wss://gateway.fluxer.app/?v=2&encoding=etf",
			wantQ:    url.Values{"encoding": {"etf"}, "v": {"2"}},
			wantHost: "gateway.fluxer.app",
			scheme:   "wss",
		},
		{
			name:     "explicit values",
			raw:      "ws://localhost:8080/gw",
			encoding: "json",
			version:  "3",
			wantQ:    url.Values{"encoding": {"json"}, "v": {"3"}},
			wantHost: "localhost:8080",
			scheme:   "ws",
		},
		{
			name:     "https becomes wss",
			raw:      "https://gateway.fluxer.app",
			wantQ:    url.Values{"encoding": {"json"}, "v": {"1"}},
			wantHost: "gateway.fluxer.app",
			scheme:   "wss",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.raw, tt.encoding, tt.version)
			require.NoError(t, err)

			u, err := url.Parse(got)
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, u.Scheme)
			assert.Equal(t, tt.wantHost, u.Host)
			assert.Equal(t, tt.wantQ, u.Query())
		})
	}
}

func TestNormalizeURL_Rejects(t *testing.T) {
	_, err := NormalizeURL("", "", "")
	assert.Error(t, err)

	_, err = NormalizeURL("ftp://example.com", "", "")
	assert.Error(t, err)
}

func TestParseIntents(t *testing.T) {
	v, err := ParseIntents([]string{"guilds", "Guild_Messages", " message_content "})
	require.NoError(t, err)
	assert.Equal(t, IntentGuilds|IntentGuildMessages|IntentMessageContent, v)

	v, err = ParseIntents([]string{"messages"})
	require.NoError(t, err)
	assert.True(t, v.Has(IntentGuildMessages))
	assert.True(t, v.Has(IntentDirectMessages))

	_, err = ParseIntents([]string{"bogus"})
	assert.Error(t, err)
}

func TestDefaultIntents_ExcludePrivileged(t *testing.T) {
	d := DefaultIntents()
	assert.False(t, d.Has(IntentMembers))
	assert.False(t, d.Has(IntentPresences))
	assert.False(t, d.Has(IntentMessageContent))
	assert.True(t, d.Has(IntentGuilds))
	assert.True(t, AllIntents().Has(d))
}

func TestIntents_Names(t *testing.T) {
	assert.Equal(t, []string{"guild_messages", "guilds"}, (IntentGuilds | IntentGuildMessages).Names())
}
