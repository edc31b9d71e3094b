package models

import (
	"fmt"
	"io"
	"strings"
)

// LengthOption is the summary verbosity requested from the analysis service.
type LengthOption string

const (
	LengthShort  LengthOption = "short"
	LengthMedium LengthOption = "medium"
	LengthLong   LengthOption = "long"
)

// DefaultLength is the option selected before the user picks one.
const DefaultLength = LengthMedium

// LengthOptions lists the accepted options in display order.
var LengthOptions = []LengthOption{LengthShort, LengthMedium, LengthLong}

// ParseLengthOption maps user input onto a LengthOption.
// Anything outside short/medium/long is rejected.
func ParseLengthOption(s string) (LengthOption, bool) {
	switch LengthOption(strings.ToLower(strings.TrimSpace(s))) {
	case LengthShort:
		return LengthShort, true
	case LengthMedium:
		return LengthMedium, true
	case LengthLong:
		return LengthLong, true
	}
	return "", false
}

// Phase is the controller's position in the Idle -> Submitting -> Idle cycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
)

// SubmissionState is owned by the upload controller.
type SubmissionState struct {
	IsLoading      bool         `json:"isLoading" msgpack:"isLoading"`
	SelectedLength LengthOption `json:"selectedLength" msgpack:"selectedLength"`
	Phase          Phase        `json:"phase" msgpack:"phase"`
}

// InitialSubmissionState returns {isLoading: false, selectedLength: medium}.
func InitialSubmissionState() SubmissionState {
	return SubmissionState{
		IsLoading:      false,
		SelectedLength: DefaultLength,
		Phase:          PhaseIdle,
	}
}

// FileSource opens the bytes behind a FileDescriptor. It may be called more
// than once (preview decode and submission read independently).
type FileSource interface {
	Open() (io.ReadCloser, error)
}

// FileSourceFunc adapts a function to FileSource.
type FileSourceFunc func() (io.ReadCloser, error)

// Open implements FileSource.
func (f FileSourceFunc) Open() (io.ReadCloser, error) { return f() }

// FileDescriptor describes a file the user selected or dropped.
type FileDescriptor struct {
	Name     string     `json:"name"`
	MIMEType string     `json:"mimeType"`
	Size     int64      `json:"size"`
	Source   FileSource `json:"-"`

	// SpoolID is set when the bytes live in the spool store.
	SpoolID string `json:"-"`
}

// IsImage reports whether the declared type is an image.
func (d FileDescriptor) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(d.MIMEType), "image/")
}

// IsPDF reports whether the declared type is a PDF.
func (d FileDescriptor) IsPDF() bool {
	return strings.EqualFold(d.MIMEType, "application/pdf")
}

// Open opens the underlying bytes.
func (d FileDescriptor) Open() (io.ReadCloser, error) {
	if d.Source == nil {
		return nil, fmt.Errorf("file %q has no source", d.Name)
	}
	return d.Source.Open()
}

// UploadRequest is a validated file plus the option chosen at submission time.
// It is immutable once submitted.
type UploadRequest struct {
	ID     string         `json:"id"`
	File   FileDescriptor `json:"file"`
	Length LengthOption   `json:"length"`
}
