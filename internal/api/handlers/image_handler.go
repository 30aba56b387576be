package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rjadr/historymemes/internal/api/response"
	"github.com/rjadr/historymemes/internal/service"
	"github.com/rjadr/historymemes/pkg/hub"
)

// ImagePathPrefix is the route prefix of proxied record images.
const ImagePathPrefix = "/images/"

// ImageURL returns the proxied image URL of row rowIdx.
func ImageURL(rowIdx int) string {
	return fmt.Sprintf("%s%d", ImagePathPrefix, rowIdx)
}

// ImageGetter returns the image of a record (implemented by service.ImageService).
type ImageGetter interface {
	Get(ctx context.Context, rowIdx int) (*hub.Asset, error)
}

// ImageHandler proxies record images from the hub.
type ImageHandler struct {
	images ImageGetter
}

// NewImageHandler creates an ImageHandler.
func NewImageHandler(images ImageGetter) *ImageHandler {
	return &ImageHandler{images: images}
}

// Get handles GET /images/{row}.
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	rowIdx, err := strconv.Atoi(r.PathValue("row"))
	if err != nil || rowIdx < 0 {
		response.RespondBadRequest(w, "row must be a non-negative integer")

		return
	}

	asset, err := h.images.Get(r.Context(), rowIdx)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrImageNotFound), errors.Is(err, hub.ErrNotFound):
			response.RespondNotFound(w, fmt.Sprintf("no image for row %d", rowIdx))
		default:
			slog.ErrorContext(r.Context(), "image fetch failed", "row_idx", rowIdx, "error", err)
			response.RespondBadGateway(w, "Failed to fetch image from the dataset host")
		}

		return
	}

	contentType := asset.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(asset.Data)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(asset.Data); err != nil {
		slog.DebugContext(r.Context(), "Failed to write image response", "error", err)
	}
}
