package vectorstore

import (
	"context"
	"errors"

	"image-rag/internal/models"
)

var ErrEmptyImagePath = errors.New("entry has an empty image_path")

// Store persists image entries keyed by image_path.
type Store interface {
	// Read returns every entry; backends degrade to an empty slice instead of failing.
	Read(ctx context.Context) []models.Entry
	Upsert(ctx context.Context, entry models.Entry) error
	// UpsertAll applies a batch in one read-modify-write.
	UpsertAll(ctx context.Context, entries []models.Entry) error
	// DeleteBySource removes and returns all entries of one source document.
	DeleteBySource(ctx context.Context, sourceDoc string) ([]models.Entry, error)
	Close() error
}

func Validate(entries []models.Entry) error {
	for _, e := range entries {
		if e.ImagePath == "" {
			return ErrEmptyImagePath
		}
	}
	return nil
}

// Merge replaces entries of current that share an image_path with an incoming
// entry and appends the incoming ones in order. Later duplicates in incoming win.
func Merge(current, incoming []models.Entry) []models.Entry {
	latest := make(map[string]int, len(incoming))
	for i, e := range incoming {
		latest[e.ImagePath] = i
	}
	merged := make([]models.Entry, 0, len(current)+len(incoming))
	for _, e := range current {
		if _, replaced := latest[e.ImagePath]; !replaced {
			merged = append(merged, e)
		}
	}
	for i, e := range incoming {
		if latest[e.ImagePath] == i {
			merged = append(merged, e)
		}
	}
	return merged
}

// Partition splits entries into those kept and those whose source_doc matches.
func Partition(entries []models.Entry, sourceDoc string) (kept, removed []models.Entry) {
	kept = make([]models.Entry, 0, len(entries))
	removed = []models.Entry{}
	for _, e := range entries {
		if e.SourceDoc == sourceDoc {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	return kept, removed
}
