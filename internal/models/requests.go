package models

// SearchRequest is the JSON body of POST /v1/search (text query modes).
type SearchRequest struct {
	Mode  string `json:"mode"  validate:"required,search_mode=text"`
	K     int    `json:"k"     validate:"omitempty,min=1,max=10"`
	Query string `json:"query" validate:"max=2000,no_null_bytes"`
}

// ImageSearchForm holds the non-file fields of POST /v1/search/image.
type ImageSearchForm struct {
	Mode string `form:"mode" validate:"required,search_mode=image"`
	K    int    `form:"k"    validate:"omitempty,min=1,max=10"`
}

// PageQuery holds the UI form fields (query string on GET /, multipart fields on POST /).
type PageQuery struct {
	Mode string `form:"mode" validate:"omitempty,search_mode"`
	K    int    `form:"k"`
	Q    string `form:"q"    validate:"max=2000,no_null_bytes"`
}
