package models

import "time"

// Spool status values.
const (
	SpoolStatusSpooled    = "spooled"
	SpoolStatusSubmitting = "submitting"
)

// FileInfo represents metadata about a spooled upload.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MIMEType   string    `json:"mimeType,omitempty"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"` // "spooled", "submitting"
}
