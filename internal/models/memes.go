package models

// Column names of the two embedding columns of the dataset.
const (
	ColumnTextEmbeddings  Column = "txt_embs"
	ColumnImageEmbeddings Column = "img_embs"
)

// Column identifies one vector column of the dataset.
type Column string

// String implements fmt.Stringer.
func (c Column) String() string {
	return string(c)
}

// IsValid reports whether c names one of the indexed columns.
func (c Column) IsValid() bool {
	return c == ColumnTextEmbeddings || c == ColumnImageEmbeddings
}

// ImageRef points at the binary image of a record on the hub asset server.
// Bytes are fetched on demand by the image service.
type ImageRef struct {
	Src    string `json:"src"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Meme is one record of the dataset split. Immutable after loading.
type Meme struct {
	RowIdx    int       `json:"row_idx"`
	Title     string    `json:"title"`
	Permalink string    `json:"permalink"`
	Image     ImageRef  `json:"image"`
	TxtEmbs   []float32 `json:"txt_embs"`
	ImgEmbs   []float32 `json:"img_embs"`
}

// Embedding returns the vector stored in column c, or nil for an unknown column.
func (m *Meme) Embedding(c Column) []float32 {
	switch c {
	case ColumnTextEmbeddings:
		return m.TxtEmbs
	case ColumnImageEmbeddings:
		return m.ImgEmbs
	default:
		return nil
	}
}

// Neighbor is a record with its raw distance to the query (lower is more similar).
type Neighbor struct {
	Meme     *Meme
	Distance float64
}

// ResultSet is the outcome of one k-nearest-neighbor lookup, ordered by increasing distance.
type ResultSet struct {
	Mode      SearchMode
	Column    Column
	Neighbors []Neighbor
}

// Len returns the number of neighbors.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}

	return len(r.Neighbors)
}

// Distances returns the raw distances in result order.
func (r *ResultSet) Distances() []float64 {
	if r == nil {
		return nil
	}

	out := make([]float64, len(r.Neighbors))
	for i := range r.Neighbors {
		out[i] = r.Neighbors[i].Distance
	}

	return out
}
