package models

// AnalysisResult is built from the analysis service response. A new result
// replaces the previous one entirely.
type AnalysisResult struct {
	Success      bool   `json:"success" msgpack:"success"`
	Summary      string `json:"summary" msgpack:"summary"`
	Improvements string `json:"improvements" msgpack:"improvements"`
	FileURL      string `json:"fileUrl" msgpack:"fileUrl"`
	ErrorDetail  string `json:"errorDetail,omitempty" msgpack:"errorDetail,omitempty"`

	FileName         string `json:"fileName,omitempty" msgpack:"fileName,omitempty"`
	SavedFileName    string `json:"savedFileName,omitempty" msgpack:"savedFileName,omitempty"`
	TextExtracted    int    `json:"textExtracted,omitempty" msgpack:"textExtracted,omitempty"`
	ProcessingStatus string `json:"processingStatus,omitempty" msgpack:"processingStatus,omitempty"`
}

// PreviewState is derived locally from the accepted file.
type PreviewState struct {
	FileName       string `json:"fileName" msgpack:"fileName"`
	MIMEType       string `json:"mimeType" msgpack:"mimeType"`
	PreviewDataURL string `json:"previewDataUrl,omitempty" msgpack:"previewDataUrl,omitempty"`
	Width          int    `json:"width,omitempty" msgpack:"width,omitempty"`
	Height         int    `json:"height,omitempty" msgpack:"height,omitempty"`
	IsPDF          bool   `json:"isPdf" msgpack:"isPdf"`
	Pending        bool   `json:"pending" msgpack:"pending"`
}

// RenderedResult is the display text produced from an AnalysisResult.
type RenderedResult struct {
	Summary      string `json:"summary" msgpack:"summary"`
	Improvements string `json:"improvements" msgpack:"improvements"`
	DownloadURL  string `json:"downloadUrl,omitempty" msgpack:"downloadUrl,omitempty"`
}

// Empty reports whether there is nothing to display.
func (r RenderedResult) Empty() bool {
	return r.Summary == "" && r.Improvements == ""
}

// Outcome classifies how a submission ended.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeServiceError   Outcome = "service_error"
	OutcomeTransportError Outcome = "transport_error"
)
