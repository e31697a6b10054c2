package dto

// ImageData is a fetched, validated, wire-ready image.
type ImageData struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	DataURL     string `json:"-"`
}
