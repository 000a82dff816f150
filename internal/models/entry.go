package models

// Metadata is copied from the parent document at ingestion time.
type Metadata struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	DocAuthor     string `json:"docAuthor"`
	ChunkSource   string `json:"chunkSource"`
	OCRText       string `json:"ocrText"`
	EmbeddingText string `json:"embeddingText"`
}

// Entry is one persisted record of the image vector store. ImagePath is the key.
type Entry struct {
	Vector    []float32 `json:"vector"`
	ImagePath string    `json:"image_path"`
	SourceDoc string    `json:"source_doc"`
	Page      *int      `json:"page"`
	Metadata  Metadata  `json:"metadata"`
}

// Result is an entry scored against a query. It never carries the raw vector.
type Result struct {
	ImagePath string   `json:"image_path"`
	Page      *int     `json:"page"`
	Score     float64  `json:"score"`
	SourceDoc string   `json:"source_doc"`
	Metadata  Metadata `json:"metadata"`
	Label     string   `json:"label"`
}
