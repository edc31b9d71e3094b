package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/preview"
	"github.com/docsum/workbench/internal/storage"
)

const sniffLen = 512

// spoolPath copies a file on disk into the spool and describes it the way a
// browser drop would be described.
func spoolPath(spool storage.Store, path string) (models.FileDescriptor, error) {
	// #nosec G304 - path comes from the command line or the watched folder
	f, err := os.Open(path)
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		return models.FileDescriptor{}, fmt.Errorf("%s is a directory", path)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return models.FileDescriptor{}, fmt.Errorf("failed to read file: %w", err)
	}
	head = head[:n]

	name := filepath.Base(path)
	info, err := spool.Save(name, io.MultiReader(bytes.NewReader(head), f))
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("failed to spool file: %w", err)
	}

	return models.FileDescriptor{
		Name:     name,
		MIMEType: preview.DetectMIME(name, head),
		Size:     info.Size,
		Source:   storage.Source(spool, info.ID),
		SpoolID:  info.ID,
	}, nil
}

// failureNotice reports whether v ends in an error the user has to see.
func failureNotice(v models.ViewState) error {
	if v.Notice == nil {
		return nil
	}
	return fmt.Errorf("%s: %s", v.Notice.Kind, v.Notice.Message)
}
