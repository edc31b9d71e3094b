// handlers_workbench.go - Upload workflow handlers
package api

import (
	"bytes"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/docsum/workbench/internal/logging"
	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/preview"
	"github.com/docsum/workbench/internal/session"
	"github.com/docsum/workbench/internal/storage"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// SessionCookie carries the workbench session id.
const SessionCookie = "docsum_session"

// MIMEApplicationMsgpack is accepted by GET /api/state.
const MIMEApplicationMsgpack = "application/msgpack"

const sniffLen = 512

// WorkbenchHandlerImpl implements the WorkbenchHandler interface
type WorkbenchHandlerImpl struct {
	sessions SessionManager
	spool    storage.Store
	logger   *slog.Logger
}

// NewWorkbenchHandler creates a new workbench handler instance
func NewWorkbenchHandler(sessions SessionManager, spool storage.Store, logger *slog.Logger) WorkbenchHandler {
	return &WorkbenchHandlerImpl{
		sessions: sessions,
		spool:    spool,
		logger:   logging.OrDefault(logger),
	}
}

type lengthRequest struct {
	Length string `json:"length"`
}

type dragRequest struct {
	Active bool `json:"active"`
}

// HandleGetState returns the caller's ViewState as JSON or msgpack
func (h *WorkbenchHandlerImpl) HandleGetState(c echo.Context) error {
	wb := resolveWorkbench(c, h.sessions)
	return writeView(c, http.StatusOK, wb.View())
}

// HandleSetLength selects the summary length. Unknown values leave the
// selection unchanged.
func (h *WorkbenchHandlerImpl) HandleSetLength(c echo.Context) error {
	var req lengthRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	wb := resolveWorkbench(c, h.sessions)
	if !wb.SetLengthOption(req.Length) {
		h.logger.Debug("length_option_ignored", "session_id", wb.ID(), "value", req.Length)
	}
	return c.JSON(http.StatusOK, wb.View())
}

// HandleDrag marks a drag hovering over the drop zone
func (h *WorkbenchHandlerImpl) HandleDrag(c echo.Context) error {
	var req dragRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	wb := resolveWorkbench(c, h.sessions)
	return c.JSON(http.StatusOK, wb.SetDragActive(req.Active))
}

// HandleSubmitDocument accepts multipart "file" parts, spools them and hands
// them to the workbench. 202 means a submission is in flight.
func (h *WorkbenchHandlerImpl) HandleSubmitDocument(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("expected multipart form with a file field", err)
	}
	parts := form.File["file"]
	if len(parts) == 0 {
		return NewBadRequestError("no file provided", nil)
	}

	wb := resolveWorkbench(c, h.sessions)

	files := make([]models.FileDescriptor, 0, len(parts))
	for _, fh := range parts {
		desc, err := h.spoolPart(fh)
		if err != nil {
			for _, f := range files {
				_ = h.spool.Delete(f.SpoolID)
			}
			return NewInternalError("failed to spool upload", err)
		}
		files = append(files, desc)
	}

	req, err := wb.Drop(c.Request().Context(), files)
	if err != nil {
		return dropError(err)
	}

	h.logger.Info("document_accepted",
		"session_id", wb.ID(),
		"request_id", req.ID,
		"file", req.File.Name,
		"length", req.Length,
	)
	return c.JSON(http.StatusAccepted, wb.View())
}

// spoolPart saves one multipart part and describes it. The declared content
// type wins; parts without one are sniffed.
func (h *WorkbenchHandlerImpl) spoolPart(fh *multipart.FileHeader) (models.FileDescriptor, error) {
	src, err := fh.Open()
	if err != nil {
		return models.FileDescriptor{}, err
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return models.FileDescriptor{}, err
	}
	head = head[:n]

	mimeType := strings.TrimSpace(fh.Header.Get(echo.HeaderContentType))
	if mimeType == "" || strings.HasPrefix(mimeType, echo.MIMEOctetStream) {
		mimeType = preview.DetectMIME(fh.Filename, head)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	info, err := h.spool.Save(fh.Filename, io.MultiReader(bytes.NewReader(head), src))
	if err != nil {
		return models.FileDescriptor{}, err
	}

	return models.FileDescriptor{
		Name:     fh.Filename,
		MIMEType: strings.ToLower(mimeType),
		Size:     info.Size,
		Source:   storage.Source(h.spool, info.ID),
		SpoolID:  info.ID,
	}, nil
}

// resolveWorkbench finds the caller's workbench from the session cookie,
// issuing a new cookie on first contact.
func resolveWorkbench(c echo.Context, sessions SessionManager) *session.Workbench {
	id := sessionID(c)
	wb := sessions.GetOrCreate(id)
	if wb.ID() != id {
		c.SetCookie(sessionCookie(wb.ID()))
	}
	return wb
}

func sessionID(c echo.Context) string {
	ck, err := c.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(ck.Value); err != nil {
		return ""
	}
	return ck.Value
}

func sessionCookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// writeView encodes v as msgpack when the client asks for it.
func writeView(c echo.Context, status int, v models.ViewState) error {
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEApplicationMsgpack) {
		data, err := msgpack.Marshal(v)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(status, MIMEApplicationMsgpack, data)
	}
	return c.JSON(status, v)
}
