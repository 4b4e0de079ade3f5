package downloads

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// Record is a single installation tracked by the Registry.
type Record struct {
	ID              string     `json:"id"`
	BackendID       string     `json:"backend_id,omitempty"`
	SourceURL       string     `json:"source_url"`
	DisplayName     string     `json:"display_name"`
	State           State      `json:"state"`
	ProgressPercent float64    `json:"progress_percent"`
	BytesReceived   int64      `json:"bytes_received"`
	BytesTotal      int64      `json:"bytes_total"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	ErrorDetail     string     `json:"error_detail,omitempty"`
	InstalledPath   string     `json:"installed_path,omitempty"`

	seq uint64
}

// Snapshot is a read-only view of the Registry handed to presentation code.
type Snapshot struct {
	Version     uint64   `json:"version"`
	Active      []Record `json:"active"`
	Completed   []Record `json:"completed"`
	Cancelled   []Record `json:"cancelled"`
	ActiveCount int      `json:"active_count"`
	Visible     bool     `json:"visible"`
}

func (r *Record) clone() Record {
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// nameFromURL derives a display name from the last path segment of a
// download URL, e.g. "http://x/Cool%20Mod.zip" -> "Cool Mod.zip".
func nameFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if base := path.Base(u.Path); u.Path != "" && base != "/" && base != "." {
		return base
	}
	if u.Host != "" {
		return u.Host
	}
	return raw
}
