package models

import (
	"strings"
	"time"
)

// NoticeKind classifies a user-visible alert.
type NoticeKind string

const (
	NoticeValidation NoticeKind = "validation"
	NoticeBatch      NoticeKind = "batch"
	NoticeBusy       NoticeKind = "busy"
	NoticeService    NoticeKind = "service"
	NoticeTransport  NoticeKind = "transport"
)

// Notice is an alert shown to the user.
type Notice struct {
	Kind      NoticeKind `json:"kind" msgpack:"kind"`
	Message   string     `json:"message" msgpack:"message"`
	CreatedAt time.Time  `json:"createdAt" msgpack:"createdAt"`
}

// DropZoneState is the visual state of the drop affordance.
type DropZoneState string

const (
	DropZoneIdle       DropZoneState = "idle"
	DropZoneDragActive DropZoneState = "drag-active"
	DropZoneLoading    DropZoneState = "loading"
)

// Theme is the persisted light/dark preference.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// DefaultTheme matches the UI's first-run look.
const DefaultTheme = ThemeDark

// ParseTheme accepts "dark" or "light".
func ParseTheme(s string) (Theme, bool) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case ThemeDark:
		return ThemeDark, true
	case ThemeLight:
		return ThemeLight, true
	}
	return "", false
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

// ViewState is a consistent snapshot of everything a renderer displays.
// Version increases by one on every transition.
type ViewState struct {
	Version    uint64          `json:"version" msgpack:"version"`
	Submission SubmissionState `json:"submission" msgpack:"submission"`
	DropZone   DropZoneState   `json:"dropZone" msgpack:"dropZone"`
	Preview    *PreviewState   `json:"preview,omitempty" msgpack:"preview,omitempty"`
	Result     *RenderedResult `json:"result,omitempty" msgpack:"result,omitempty"`
	Notice     *Notice         `json:"notice,omitempty" msgpack:"notice,omitempty"`
	Theme      Theme           `json:"theme" msgpack:"theme"`
}
