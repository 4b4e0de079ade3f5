package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Request
	}{
		{
			name: "full link",
			raw:  "modstore://install?url=https%3A%2F%2Fmods.example.com%2Fcool.zip&name=Cool%20Mod",
			want: Request{Action: "install", URL: "https://mods.example.com/cool.zip", Name: "Cool Mod"},
		},
		{
			name: "unescaped url",
			raw:  "modstore://install?url=http://x/mod.zip",
			want: Request{Action: "install", URL: "http://x/mod.zip"},
		},
		{
			name: "opaque form",
			raw:  "modstore:install?url=http://x/mod.zip",
			want: Request{Action: "install", URL: "http://x/mod.zip"},
		},
		{
			name: "trailing slash and case",
			raw:  " MODSTORE://Install/?url=http://x/mod.zip ",
			want: Request{Action: "install", URL: "http://x/mod.zip"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		raw  string
		want error
	}{
		{"https://x/mod.zip", ErrUnsupportedScheme},
		{"modstore://uninstall?url=http://x/mod.zip", ErrUnsupportedAction},
		{"modstore://install", ErrInvalidArchiveURL},
		{"modstore://install?url=file:///etc/passwd", ErrInvalidArchiveURL},
		{"modstore://install?url=http://", ErrInvalidArchiveURL},
	}
	for _, tt := range tests {
		_, err := Parse(tt.raw)
		assert.ErrorIs(t, err, tt.want, tt.raw)
	}
}
