package downloads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Event
	}{
		{
			name: "install start",
			in:   `{"type":"install-start","backendId":"bk9","sourceUrl":"http://y/z.7z"}`,
			want: Event{Type: EventInstallStart, BackendID: "bk9", SourceURL: "http://y/z.7z"},
		},
		{
			name: "progress",
			in:   `{"type":"download-progress","backendId":"bk9","percent":42.5,"receivedBytes":425,"totalBytes":1000}`,
			want: Event{Type: EventDownloadProgress, BackendID: "bk9", Percent: 42.5, ReceivedBytes: 425, TotalBytes: 1000},
		},
		{
			name: "numeric strings",
			in:   `{"type":"download-progress","backendId":7,"percent":"12","receivedBytes":" 30 ","totalBytes":"n/a"}`,
			want: Event{Type: EventDownloadProgress, BackendID: "7", Percent: 12, ReceivedBytes: 30},
		},
		{
			name: "missing fields",
			in:   `{"type":"install-success"}`,
			want: Event{Type: EventInstallSuccess},
		},
		{
			name: "mistyped strings",
			in:   `{"type":"install-error","backendId":null,"error":{"code":5},"modName":["x"]}`,
			want: Event{Type: EventInstallError},
		},
		{
			name: "unknown fields",
			in:   `{"type":"extract-start","backendId":"bk1","extra":true}`,
			want: Event{Type: EventExtractStart, BackendID: "bk1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEventErrors(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"reboot"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeEvent([]byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeEvent([]byte(`{"type":`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownEvent)
}
