package preview

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/docsum/workbench/internal/models"
)

// palette holds the colours for one theme preference. Each colour still
// adapts to the terminal background.
type palette struct {
	Primary lipgloss.AdaptiveColor
	Accent  lipgloss.AdaptiveColor
	Success lipgloss.AdaptiveColor
	Warning lipgloss.AdaptiveColor
	Error   lipgloss.AdaptiveColor
	Border  lipgloss.AdaptiveColor
	Muted   lipgloss.AdaptiveColor
	Text    lipgloss.AdaptiveColor
}

func buildPalette(primary, accent, success, warning, errorColor, border, muted, text [2]string) palette {
	return palette{
		Primary: lipgloss.AdaptiveColor{Light: primary[0], Dark: primary[1]},
		Accent:  lipgloss.AdaptiveColor{Light: accent[0], Dark: accent[1]},
		Success: lipgloss.AdaptiveColor{Light: success[0], Dark: success[1]},
		Warning: lipgloss.AdaptiveColor{Light: warning[0], Dark: warning[1]},
		Error:   lipgloss.AdaptiveColor{Light: errorColor[0], Dark: errorColor[1]},
		Border:  lipgloss.AdaptiveColor{Light: border[0], Dark: border[1]},
		Muted:   lipgloss.AdaptiveColor{Light: muted[0], Dark: muted[1]},
		Text:    lipgloss.AdaptiveColor{Light: text[0], Dark: text[1]},
	}
}

var palettes = map[models.Theme]palette{
	models.ThemeDark: buildPalette(
		[2]string{"#1E40AF", "#60A5FA"}, [2]string{"#7C3AED", "#C084FC"}, [2]string{"#059669", "#34D399"},
		[2]string{"#D97706", "#FBBF24"}, [2]string{"#DC2626", "#F87171"}, [2]string{"#4B5563", "#374151"},
		[2]string{"#6B7280", "#9CA3AF"}, [2]string{"#111827", "#F9FAFB"}),
	models.ThemeLight: buildPalette(
		[2]string{"#1D4ED8", "#3B82F6"}, [2]string{"#6D28D9", "#A855F7"}, [2]string{"#047857", "#10B981"},
		[2]string{"#B45309", "#F59E0B"}, [2]string{"#B91C1C", "#EF4444"}, [2]string{"#D1D5DB", "#6B7280"},
		[2]string{"#4B5563", "#D1D5DB"}, [2]string{"#1F2937", "#E5E7EB"}),
}

// TerminalRenderer draws a ViewState for the CLI surfaces.
type TerminalRenderer struct {
	r     *lipgloss.Renderer
	theme models.Theme
	width int

	title   lipgloss.Style
	header  lipgloss.Style
	body    lipgloss.Style
	muted   lipgloss.Style
	active  lipgloss.Style
	warning lipgloss.Style
	errorS  lipgloss.Style
	success lipgloss.Style
	box     lipgloss.Style
	zone    lipgloss.Style
}

// NewTerminalRenderer builds a renderer whose colour profile is detected from w.
func NewTerminalRenderer(w io.Writer, theme models.Theme) *TerminalRenderer {
	if _, ok := palettes[theme]; !ok {
		theme = models.DefaultTheme
	}
	t := &TerminalRenderer{r: lipgloss.NewRenderer(w), width: 72}
	t.SetTheme(theme)
	return t
}

// Theme returns the active theme.
func (t *TerminalRenderer) Theme() models.Theme {
	return t.theme
}

// SetTheme rebuilds the styles for theme.
func (t *TerminalRenderer) SetTheme(theme models.Theme) {
	p, ok := palettes[theme]
	if !ok {
		return
	}
	t.theme = theme

	t.title = t.r.NewStyle().Foreground(p.Primary).Bold(true)
	t.header = t.r.NewStyle().Foreground(p.Accent).Bold(true)
	t.body = t.r.NewStyle().Foreground(p.Text)
	t.muted = t.r.NewStyle().Foreground(p.Muted)
	t.active = t.r.NewStyle().Foreground(p.Primary).Bold(true).Underline(true)
	t.warning = t.r.NewStyle().Foreground(p.Warning).Bold(true)
	t.errorS = t.r.NewStyle().Foreground(p.Error).Bold(true)
	t.success = t.r.NewStyle().Foreground(p.Success)
	t.box = t.r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.Border).
		Padding(0, 1).
		Width(t.width)
	t.zone = t.r.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(p.Primary).
		Padding(1, 2).
		Width(t.width).
		Align(lipgloss.Center)
}

// Render lays out the whole workbench view.
func (t *TerminalRenderer) Render(v models.ViewState) string {
	sections := []string{
		t.title.Render("Document Summary Workbench") + "  " + t.muted.Render(fmt.Sprintf("[%s]", t.theme)),
		t.renderDropZone(v),
	}

	if v.Notice != nil {
		sections = append(sections, t.renderNotice(*v.Notice))
	}
	if v.Preview != nil {
		sections = append(sections, t.renderPreview(*v.Preview, v.Result))
	}
	if v.Result != nil {
		if v.Result.Summary != "" {
			sections = append(sections, t.section("AI-Generated Summary", v.Result.Summary))
		}
		if v.Result.Improvements != "" {
			sections = append(sections, t.section("Document Analysis & Improvements", v.Result.Improvements))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (t *TerminalRenderer) renderDropZone(v models.ViewState) string {
	var lines []string
	switch v.DropZone {
	case models.DropZoneLoading:
		lines = append(lines, t.warning.Render(LoadingText))
	case models.DropZoneDragActive:
		lines = append(lines, t.header.Render(DragActiveText))
	default:
		lines = append(lines,
			t.header.Render("Upload Your Document"),
			t.body.Render(IdleText),
			t.muted.Render(HintText),
		)
	}

	// the selector is hidden while a submission runs
	if !v.Submission.IsLoading {
		lines = append(lines, "", t.renderLength(v.Submission.SelectedLength))
	}
	return t.zone.Render(strings.Join(lines, "\n"))
}

func (t *TerminalRenderer) renderLength(selected models.LengthOption) string {
	opts := make([]string, 0, len(models.LengthOptions))
	for _, o := range models.LengthOptions {
		if o == selected {
			opts = append(opts, t.active.Render("["+string(o)+"]"))
			continue
		}
		opts = append(opts, t.muted.Render(string(o)))
	}
	return t.body.Render("Summary Length: ") + strings.Join(opts, " ")
}

func (t *TerminalRenderer) renderNotice(n models.Notice) string {
	style := t.warning
	if n.Kind == models.NoticeService || n.Kind == models.NoticeTransport {
		style = t.errorS
	}
	return style.Render("! " + n.Message)
}

func (t *TerminalRenderer) renderPreview(p models.PreviewState, result *models.RenderedResult) string {
	lines := []string{t.body.Render(p.FileName)}
	if result != nil && result.DownloadURL != "" {
		lines = append(lines, t.muted.Render("Download: ")+t.body.Render(result.DownloadURL))
	}

	switch {
	case p.PreviewDataURL != "":
		lines = append(lines, t.success.Render(fmt.Sprintf("Image preview ready: %dx%d %s", p.Width, p.Height, p.MIMEType)))
	case p.Pending:
		lines = append(lines, t.muted.Render("Preparing preview..."))
	case p.IsPDF:
		lines = append(lines, t.body.Render(PDFPlaceholder))
	}
	return t.section("Uploaded Document", strings.Join(lines, "\n"))
}

func (t *TerminalRenderer) section(title, content string) string {
	return t.header.Render(title) + "\n" + t.box.Render(content)
}
