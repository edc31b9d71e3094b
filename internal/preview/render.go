package preview

import (
	"net/url"
	"strings"

	"github.com/docsum/workbench/internal/models"
)

// Display strings shared by the web and terminal renderers.
const (
	LoadingText    = "Processing Document..."
	PDFPlaceholder = "PDF uploaded successfully. Click \"Download\" to view."
	IdleText       = "Drag & drop or click to browse"
	DragActiveText = "Drop the file here"
	HintText       = "Supports PDF, PNG, JPG (max 10MB)"
)

var newlineEscape = strings.NewReplacer(`\n`, "\n")

// RenderResult turns an AnalysisResult into display text. It is pure and
// idempotent: emphasis markers (**) are removed and literal \n sequences
// become newlines.
func RenderResult(result models.AnalysisResult) models.RenderedResult {
	return models.RenderedResult{
		Summary:      CleanText(result.Summary),
		Improvements: CleanText(result.Improvements),
		DownloadURL:  result.FileURL,
	}
}

// CleanText applies the display transform to one text block.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "**", "")
	return newlineEscape.Replace(s)
}

// ResolveFileURL makes a service-relative file link absolute. Absolute
// links and unparsable input are returned unchanged.
func ResolveFileURL(serviceBase, fileURL string) string {
	if fileURL == "" || serviceBase == "" {
		return fileURL
	}
	ref, err := url.Parse(fileURL)
	if err != nil || ref.IsAbs() {
		return fileURL
	}
	base, err := url.Parse(strings.TrimRight(serviceBase, "/") + "/")
	if err != nil {
		return fileURL
	}
	return base.ResolveReference(ref).String()
}
