package models

import "time"

// File is an uploaded document. ExtractionText is set only when Processed.
type File struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	OriginalName   string    `json:"original_name"`
	FilePath       string    `json:"file_path"`
	FileURL        string    `json:"file_url"`
	FileSize       int64     `json:"file_size"`
	ContentType    string    `json:"content_type"`
	Processed      bool      `json:"processed"`
	ExtractionText *string   `json:"extraction_text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Text returns the extracted text, or "" when the file was not processed.
func (f *File) Text() string {
	if f == nil || !f.Processed || f.ExtractionText == nil {
		return ""
	}
	return *f.ExtractionText
}
