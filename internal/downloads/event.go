package downloads

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownEvent is returned by DecodeEvent for an unrecognised event type.
var ErrUnknownEvent = errors.New("unknown event type")

// EventType names a backend lifecycle event.
type EventType string

// Lifecycle events emitted by the Installer Backend, in the order they occur
// for a single installation.
const (
	EventInstallStart     EventType = "install-start"
	EventDownloadProgress EventType = "download-progress"
	EventExtractStart     EventType = "extract-start"
	EventExtractComplete  EventType = "extract-complete"
	EventInstallSuccess   EventType = "install-success"
	EventInstallError     EventType = "install-error"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventInstallStart,
	EventDownloadProgress,
	EventExtractStart,
	EventExtractComplete,
	EventInstallSuccess,
	EventInstallError,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is one lifecycle message from the Installer Backend. Only the fields
// relevant to Type are meaningful.
type Event struct {
	Type          EventType `json:"type"`
	BackendID     string    `json:"backendId"`
	SourceURL     string    `json:"sourceUrl,omitempty"`
	Percent       float64   `json:"percent,omitempty"`
	ReceivedBytes int64     `json:"receivedBytes,omitempty"`
	TotalBytes    int64     `json:"totalBytes,omitempty"`
	ModName       string    `json:"modName,omitempty"`
	FolderPath    string    `json:"folderPath,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// wireEvent accepts partial or loosely typed payloads.
type wireEvent struct {
	Type          looseString `json:"type"`
	BackendID     looseString `json:"backendId"`
	SourceURL     looseString `json:"sourceUrl"`
	Percent       looseNumber `json:"percent"`
	ReceivedBytes looseNumber `json:"receivedBytes"`
	TotalBytes    looseNumber `json:"totalBytes"`
	ModName       looseString `json:"modName"`
	FolderPath    looseString `json:"folderPath"`
	Error         looseString `json:"error"`
}

// DecodeEvent parses a backend event. Missing or mistyped fields decode to
// their zero value; only malformed JSON or an unknown type is an error.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	ev := Event{
		Type:          EventType(w.Type),
		BackendID:     string(w.BackendID),
		SourceURL:     string(w.SourceURL),
		Percent:       float64(w.Percent),
		ReceivedBytes: int64(w.ReceivedBytes),
		TotalBytes:    int64(w.TotalBytes),
		ModName:       string(w.ModName),
		FolderPath:    string(w.FolderPath),
		Error:         string(w.Error),
	}
	if !ev.Type.Valid() {
		return ev, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return ev, nil
}

// looseNumber decodes a JSON number or numeric string; anything else is 0.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*n = 0
			return nil
		}
		b = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = looseNumber(f)
	return nil
}

// looseString decodes a JSON string, or the literal text of a number or
// bool; null and objects decode to "".
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return nil
		}
		*s = looseString(v)
	case '{', '[', 'n':
		*s = ""
	default:
		*s = looseString(b)
	}
	return nil
}
