package handlers

import (
	"context"
	"net/http"

	"github.com/rjadr/historymemes/internal/api/response"
	"github.com/rjadr/historymemes/internal/api/validation"
	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/render"
)

// Searcher runs a k-NN search (implemented by service.SearchService).
type Searcher interface {
	Search(ctx context.Context, q models.Query) (*models.ResultSet, error)
}

// SearchHandler serves the JSON search API.
type SearchHandler struct {
	searcher Searcher
	imageURL render.ImageURLFunc
}

// NewSearchHandler creates a SearchHandler. imageURL builds the proxied image URL of each result.
func NewSearchHandler(searcher Searcher, imageURL render.ImageURLFunc) *SearchHandler {
	return &SearchHandler{searcher: searcher, imageURL: imageURL}
}

// SearchResponse is the body of both search endpoints. Results is never null.
type SearchResponse struct {
	Results []render.Result `json:"results"`
}

// Search handles POST /v1/search (text query modes).
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest

	if err := validation.DecodeJSON(r, &req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	mode, err := models.ParseSearchMode(req.Mode)
	if err != nil {
		respondSearchError(w, r, err)

		return
	}

	h.respond(w, r, models.Query{Mode: mode, K: req.K, Text: req.Query})
}

// SearchImage handles POST /v1/search/image (multipart: mode, k, file).
func (h *SearchHandler) SearchImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		response.RespondBadRequest(w, "Expected a multipart/form-data body")

		return
	}

	var form models.ImageSearchForm

	err := validation.DecodeAndValidateForm(r.MultipartForm.Value, &form)
	if err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	data, err := readUpload(r)
	if err != nil {
		response.RespondBadRequest(w, err.Error())

		return
	}

	mode, err := models.ParseSearchMode(form.Mode)
	if err != nil {
		respondSearchError(w, r, err)

		return
	}

	h.respond(w, r, models.Query{Mode: mode, K: form.K, Image: data})
}

func (h *SearchHandler) respond(w http.ResponseWriter, r *http.Request, q models.Query) {
	set, err := h.searcher.Search(r.Context(), q)
	if err != nil {
		respondSearchError(w, r, err)

		return
	}

	results := render.Results(set, h.imageURL)
	if results == nil {
		results = []render.Result{}
	}

	response.RespondJSON(w, http.StatusOK, SearchResponse{Results: results})
}
