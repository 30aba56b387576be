package handlers

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/rjadr/historymemes/internal/api/validation"
	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/render"
	"github.com/rjadr/historymemes/internal/service"
)

//go:embed templates/index.html
var templatesFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

type modeOption struct {
	Value    string
	Label    string
	Selected bool
}

// pageData is what templates/index.html renders.
type pageData struct {
	Modes      []modeOption
	Mode       models.SearchMode
	K          int
	MinK       int
	MaxK       int
	Query      string
	ShowText   bool
	ShowUpload bool
	Loading    bool
	Error      string
	Results    template.HTML
}

// UIHandler serves the single-page search UI.
type UIHandler struct {
	searcher Searcher
	ready    ReadinessChecker
	imageURL render.ImageURLFunc
}

// NewUIHandler creates a UIHandler.
func NewUIHandler(searcher Searcher, ready ReadinessChecker, imageURL render.ImageURLFunc) *UIHandler {
	return &UIHandler{searcher: searcher, ready: ready, imageURL: imageURL}
}

// Page handles GET / (mode, k and q in the query string) and POST / (multipart with an
// image file for the image modes).
func (h *UIHandler) Page(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	var upload []byte

	if r.Method == http.MethodPost {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.render(w, r, http.StatusBadRequest, newPageData(models.ModeUnset, 0, ""), "Expected a multipart/form-data upload")

			return
		}

		values = r.MultipartForm.Value

		data, err := readUpload(r)
		if err != nil {
			h.render(w, r, http.StatusBadRequest, newPageData(models.ModeUnset, 0, ""), err.Error())

			return
		}

		upload = data
	}

	var form models.PageQuery

	err := validation.DecodeAndValidateForm(values, &form)
	mode, modeErr := models.ParseSearchMode(form.Mode)

	if err != nil || modeErr != nil {
		msg := "Invalid search parameters"
		if err != nil {
			msg = err.Error()
		}

		h.render(w, r, http.StatusBadRequest, newPageData(models.ModeUnset, form.K, form.Q), msg)

		return
	}

	data := newPageData(mode, form.K, form.Q)
	data.Loading = !h.ready.Ready()

	if data.Loading {
		h.render(w, r, http.StatusOK, data, "")

		return
	}

	query := models.Query{Mode: mode, K: data.K, Text: form.Q, Image: upload}

	status, msg := http.StatusOK, ""

	data.Results, err = h.search(r.Context(), query)

	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidImage):
		status, msg = http.StatusBadRequest, "The uploaded file is not a supported image."
	case errors.Is(err, service.ErrDatasetNotReady):
		data.Loading = true
	default:
		slog.ErrorContext(r.Context(), "ui search failed", "mode", mode.String(), "error", err)

		status, msg = http.StatusInternalServerError, "Search failed. Please try again."
	}

	h.render(w, r, status, data, msg)
}

func (h *UIHandler) search(ctx context.Context, q models.Query) (template.HTML, error) {
	set, err := h.searcher.Search(ctx, q)
	if err != nil {
		return "", err //nolint:wrapcheck // mapped by the caller
	}

	return render.Page(set, h.imageURL) //nolint:wrapcheck // render errors are already descriptive
}

// newPageData fills the form state. The UI clamps k to the slider bounds.
func newPageData(mode models.SearchMode, k int, query string) pageData {
	data := pageData{
		Mode:  mode,
		K:     models.ClampK(k),
		MinK:  models.MinK,
		MaxK:  models.MaxK,
		Query: query,
	}

	for _, m := range models.SearchModes() {
		data.Modes = append(data.Modes, modeOption{Value: m.String(), Label: m.Label(), Selected: m == mode})
	}

	if mode.IsSet() {
		data.ShowText = mode.QueryModality() == models.ModalityText
		data.ShowUpload = !data.ShowText
	}

	return data
}

func (h *UIHandler) render(w http.ResponseWriter, r *http.Request, status int, data pageData, errMsg string) {
	data.Error = errMsg

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		slog.ErrorContext(r.Context(), "Failed to render page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if _, err := buf.WriteTo(w); err != nil {
		slog.DebugContext(r.Context(), "Failed to write page", "error", err)
	}
}
