package models

// Document identifies the parent of extracted images.
type Document struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	DocAuthor   string `json:"docAuthor" yaml:"doc_author"`
	ChunkSource string `json:"chunkSource" yaml:"chunk_source"`
	Location    string `json:"location" yaml:"location"`
	URL         string `json:"url" yaml:"url"`
}

// SourceKey is the value stored as source_doc and used for cleanup on re-ingestion.
func (d Document) SourceKey() string {
	if d.Location != "" {
		return d.Location
	}
	return d.URL
}

// ImageDescriptor is produced by an extractor for every image written to disk.
type ImageDescriptor struct {
	ImagePath string `json:"image_path"`
	Page      *int   `json:"page"`
	OCRText   string `json:"ocrText"`
	// surrounding text from the source document, e.g. the PDF page text
	Context string `json:"context,omitempty"`
}

// PageRef returns a pointer suitable for ImageDescriptor.Page.
func PageRef(page int) *int {
	return &page
}
