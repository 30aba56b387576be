// Package models holds the dataset, query and result types shared across layers.
package models

import (
	"errors"
	"fmt"
)

// ErrInvalidSearchMode is returned when a mode string is neither blank nor a known mode.
var ErrInvalidSearchMode = errors.New("invalid search mode")

// SearchMode selects the query modality and the target column.
type SearchMode uint8

// Search modes. ModeUnset is the blank dropdown entry; it never triggers a search.
const (
	ModeUnset SearchMode = iota
	ModeTextToText
	ModeTextToImage
	ModeImageToImage
	ModeImageToText
)

// Modality is the kind of query input.
type Modality string

// Query modalities.
const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

type modeInfo struct {
	slug     string
	label    string
	modality Modality
	column   Column
}

// modes is the single source of truth for mode slugs, labels, query modality and target column.
var modes = map[SearchMode]modeInfo{
	ModeTextToText:   {"text-to-text", "Text to text", ModalityText, ColumnTextEmbeddings},
	ModeTextToImage:  {"text-to-image", "Text to Image", ModalityText, ColumnImageEmbeddings},
	ModeImageToImage: {"image-to-image", "Image to Image", ModalityImage, ColumnImageEmbeddings},
	ModeImageToText:  {"image-to-text", "Image to Text", ModalityImage, ColumnTextEmbeddings},
}

// SearchModes returns the selectable modes in dropdown order (unset excluded).
func SearchModes() []SearchMode {
	return []SearchMode{ModeTextToText, ModeTextToImage, ModeImageToImage, ModeImageToText}
}

// ParseSearchMode accepts a slug ("text-to-image") or a label ("Text to Image").
// The empty string parses to ModeUnset.
func ParseSearchMode(s string) (SearchMode, error) {
	if s == "" {
		return ModeUnset, nil
	}

	for m, info := range modes {
		if s == info.slug || s == info.label {
			return m, nil
		}
	}

	return ModeUnset, fmt.Errorf("%w: %q", ErrInvalidSearchMode, s)
}

// String returns the slug; empty for ModeUnset.
func (m SearchMode) String() string {
	return modes[m].slug
}

// Label returns the human label shown in the dropdown.
func (m SearchMode) Label() string {
	if m == ModeUnset {
		return "Select search type"
	}

	return modes[m].label
}

// IsSet reports whether m is one of the four search modes.
func (m SearchMode) IsSet() bool {
	_, ok := modes[m]

	return ok
}

// QueryModality returns the modality of the query input for m.
func (m SearchMode) QueryModality() Modality {
	return modes[m].modality
}

// TargetColumn returns the column searched for m.
func (m SearchMode) TargetColumn() Column {
	return modes[m].column
}

// Default and bounds for k, the number of results.
const (
	DefaultK = 5
	MinK     = 1
	MaxK     = 10
)

// ClampK bounds k to [MinK, MaxK]; zero means DefaultK.
func ClampK(k int) int {
	switch {
	case k == 0:
		return DefaultK
	case k < MinK:
		return MinK
	case k > MaxK:
		return MaxK
	default:
		return k
	}
}

// Query is one user interaction: a mode, k, and either text or image bytes.
type Query struct {
	Mode  SearchMode
	K     int
	Text  string
	Image []byte
}

// IsEmpty reports whether the query input for its mode is missing.
// An empty query is a no-op, not an error.
func (q *Query) IsEmpty() bool {
	if !q.Mode.IsSet() {
		return true
	}

	if q.Mode.QueryModality() == ModalityText {
		return q.Text == ""
	}

	return len(q.Image) == 0
}
