// Package protocol parses the one-click install links a browser hands to
// the mod manager, e.g.
//
//	modstore://install?url=https://mods.example.com/files/cool.zip&name=Cool%20Mod
package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URI scheme registered with the desktop for install links.
const Scheme = "modstore"

// ActionInstall is the only supported link action.
const ActionInstall = "install"

var (
	ErrUnsupportedScheme = errors.New("unsupported link scheme")
	ErrUnsupportedAction = errors.New("unsupported link action")
	ErrInvalidArchiveURL = errors.New("invalid archive url")
)

// Request is a parsed install link.
type Request struct {
	Action string `json:"action"`
	URL    string `json:"url"`
	Name   string `json:"name,omitempty"`
}

// Parse validates raw and extracts the archive to install. Both
// "modstore://install?..." and "modstore:install?..." are accepted.
func Parse(raw string) (Request, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Request{}, fmt.Errorf("parsing link: %w", err)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return Request{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	action := u.Host
	if action == "" {
		action = u.Opaque
	}
	if action == "" {
		action = strings.Trim(u.Path, "/")
	}
	action = strings.ToLower(strings.Trim(action, "/"))
	if action != ActionInstall {
		return Request{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
	}

	q := u.Query()
	archive := strings.TrimSpace(q.Get("url"))
	if err := validateArchiveURL(archive); err != nil {
		return Request{}, err
	}
	return Request{
		Action: action,
		URL:    archive,
		Name:   strings.TrimSpace(q.Get("name")),
	}, nil
}

func validateArchiveURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: missing url parameter", ErrInvalidArchiveURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchiveURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidArchiveURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidArchiveURL)
	}
	return nil
}
