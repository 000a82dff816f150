package models

const (
	EmptyEmbeddingPlaceholder = "Empty description"
	DefaultTopK               = 3
	DefaultTargetDPI          = 140
	BaselineDPI               = 72
	ContextMaxRunes           = 500
	VectorStoreFileName       = "image_vectors.json"
)

var (
	ImageContextInstruction = "Relevant visual context was retrieved. When answering, reference the images by their label (Image 1, Image 2, etc) where appropriate."

	AnswerSystemPrompt = "You are a helpful assistant. Use the provided context to answer the query."

	// context, query
	AnswerUserTemplate = "Context:\n%s\nQuery: %s"
)
