package db

import (
	"context"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-rag/internal/config"
	"image-rag/internal/models"
)

func TestRowConversion(t *testing.T) {
	in := []models.Entry{{
		Vector:    []float32{0.1, 0.2},
		ImagePath: "extracted_img/a.png",
		SourceDoc: "report.pdf",
		Page:      models.PageRef(3),
		Metadata:  models.Metadata{Title: "Report", OCRText: "x"},
	}}
	assert.Equal(t, in, toEntries(toRows(in)))
	assert.Empty(t, toEntries(nil))
}

func TestConnectDBUnknownDriver(t *testing.T) {
	_, err := ConnectDB("postgres://localhost/x", "mysql")
	assert.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DatabaseConfig{})
	assert.Error(t, err)
}

// Runs against a real Postgres when IMAGERAG_TEST_DSN is set.
func TestStorePostgres(t *testing.T) {
	dsn := os.Getenv("IMAGERAG_TEST_DSN")
	if dsn == "" {
		t.Skip("IMAGERAG_TEST_DSN not set")
	}
	ctx := context.Background()

	for _, driver := range []string{"pgdriver", "pq"} {
		t.Run(driver, func(t *testing.T) {
			s, err := New(ctx, config.DatabaseConfig{DSN: dsn, Driver: driver})
			require.NoError(t, err)
			defer s.Close()
			require.NoError(t, s.DropImageVectors(ctx))
			require.NoError(t, s.InitDB(ctx))

			require.NoError(t, s.UpsertAll(ctx, []models.Entry{
				{Vector: []float32{1, 0}, ImagePath: "a.png", SourceDoc: "X"},
				{Vector: []float32{0, 1}, ImagePath: "b.png", SourceDoc: "Y"},
				{Vector: []float32{1, 1}, ImagePath: "a.png", SourceDoc: "X", Page: models.PageRef(1)},
			}))
			got := s.Read(ctx)
			require.Len(t, got, 2)
			require.NotNil(t, got[0].Page)

			removed, err := s.DeleteBySource(ctx, "X")
			require.NoError(t, err)
			require.Len(t, removed, 1)
			assert.Equal(t, "a.png", removed[0].ImagePath)

			left := s.Read(ctx)
			sort.Slice(left, func(i, j int) bool { return left[i].ImagePath < left[j].ImagePath })
			require.Len(t, left, 1)
			assert.Equal(t, "Y", left[0].SourceDoc)
		})
	}
}
