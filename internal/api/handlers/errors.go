// Package handlers implements the HTTP handlers of the search UI and JSON API.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/rjadr/historymemes/internal/api/response"
	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/service"
)

// multipartMemory is the part of a multipart body kept in memory; the rest spills to disk.
const multipartMemory = 8 << 20

// respondSearchError maps service errors to problem+json statuses.
func respondSearchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidImage):
		response.RespondBadRequest(w, "file is not a supported image (JPEG, PNG, GIF, BMP, TIFF or WebP)")
	case errors.Is(err, models.ErrInvalidSearchMode):
		response.RespondBadRequest(w, err.Error())
	case errors.Is(err, service.ErrDatasetNotReady):
		response.RespondServiceUnavailable(w, "Loading dataset. This could take a while...")
	default:
		slog.ErrorContext(r.Context(), "search failed", "error", err)
		response.RespondInternalServerError(w, "An unexpected error occurred")
	}
}

// readUpload returns the bytes of the multipart file field "file", or nil when no file was sent.
// ParseMultipartForm must have run.
func readUpload(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	defer closeFile(file)

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	return data, nil
}

func closeFile(f multipart.File) {
	if err := f.Close(); err != nil {
		slog.Warn("Failed to close uploaded file", "error", err)
	}
}
