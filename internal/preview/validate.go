// Package preview validates dropped files, builds image previews and turns
// analysis results into display text.
package preview

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/docsum/workbench/internal/models"
)

// MaxFileBytes is the largest file accepted for analysis (10 MiB).
const MaxFileBytes int64 = 10 * 1024 * 1024

// User-visible validation messages.
const (
	MsgUnsupportedType = "Only PDF, PNG, JPG files are allowed."
	MsgTooLarge        = "File size must be less than 10MB."
	MsgBatchRejected   = "Please drop a single file. Multiple files are not supported."
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrBatchRejected   = errors.New("multiple files dropped")
	ErrNoFile          = errors.New("no file dropped")
)

// DefaultAllowedTypes are the MIME types the analysis service understands.
var DefaultAllowedTypes = []string{"application/pdf", "image/png", "image/jpeg", "image/jpg"}

// ValidationError is a client-side rejection. It never reaches the network.
type ValidationError struct {
	Kind    error
	Message string
	File    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Kind)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// Validator checks type and size against configured limits.
type Validator struct {
	maxBytes int64
	allowed  map[string]struct{}
}

// NewValidator builds a Validator. Zero or empty arguments fall back to the defaults.
func NewValidator(maxBytes int64, allowedTypes []string) *Validator {
	if maxBytes <= 0 {
		maxBytes = MaxFileBytes
	}
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedTypes
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[normalizeMIME(t)] = struct{}{}
	}
	return &Validator{maxBytes: maxBytes, allowed: allowed}
}

var defaultValidator = NewValidator(MaxFileBytes, DefaultAllowedTypes)

// ValidateFile checks desc against the default limits.
func ValidateFile(desc models.FileDescriptor) error {
	return defaultValidator.Validate(desc)
}

// Validate returns a *ValidationError when desc has an unsupported type or
// is larger than the limit. Type is checked first.
func (v *Validator) Validate(desc models.FileDescriptor) error {
	if _, ok := v.allowed[normalizeMIME(desc.MIMEType)]; !ok {
		return &ValidationError{Kind: ErrUnsupportedType, Message: MsgUnsupportedType, File: desc.Name}
	}
	if desc.Size > v.maxBytes {
		return &ValidationError{Kind: ErrTooLarge, Message: MsgTooLarge, File: desc.Name}
	}
	return nil
}

// MaxBytes returns the size limit.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// SelectDrop picks the file to process from a drop. Batches are rejected whole.
func SelectDrop(files []models.FileDescriptor) (models.FileDescriptor, error) {
	switch len(files) {
	case 0:
		return models.FileDescriptor{}, ErrNoFile
	case 1:
		return files[0], nil
	default:
		return models.FileDescriptor{}, ErrBatchRejected
	}
}

// DetectMIME determines a file's type from its extension, falling back to
// content sniffing on head. It is used where no browser declared a type.
func DetectMIME(name string, head []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return normalizeMIME(t)
	}
	if len(head) > 0 {
		return normalizeMIME(http.DetectContentType(head))
	}
	return "application/octet-stream"
}

func normalizeMIME(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
