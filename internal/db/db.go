package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"image-rag/internal/config"
	"image-rag/internal/models"
	"image-rag/internal/vectorstore"
)

type ImageVector struct {
	bun.BaseModel `bun:"table:image_vectors,alias:iv"`
	ImagePath     string          `bun:"image_path,pk"`
	SourceDoc     string          `bun:"source_doc,notnull"`
	Page          *int            `bun:"page"`
	Vector        []float32       `bun:"vector,array"`
	Metadata      models.Metadata `bun:"metadata,type:jsonb"`
}

// Store keeps image entries in Postgres. Upserts and deletes are single statements,
// so concurrent writers never lose each other's rows.
type Store struct {
	db *bun.DB
}

var _ vectorstore.Store = (*Store)(nil)

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the DSN with pgdriver, or lib/pq when driver is "pq".
func ConnectDB(dsn, driver string) (*sql.DB, error) {
	switch driver {
	case "", "pgdriver":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), nil
	case "pq":
		return sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// New connects and creates the table if needed.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	sqldb, err := ConnectDB(cfg.DSN, cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: NewDB(sqldb, cfg.Debug)}
	if err := s.InitDB(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) InitDB(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*ImageVector)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create image_vectors: %w", err)
	}
	_, err := s.db.NewCreateIndex().
		Model((*ImageVector)(nil)).
		Index("image_vectors_source_doc_idx").
		Column("source_doc").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create source_doc index: %w", err)
	}
	return nil
}

// Read returns all rows ordered by image path.
func (s *Store) Read(ctx context.Context) []models.Entry {
	var rows []ImageVector
	if err := s.db.NewSelect().Model(&rows).Order("image_path").Scan(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to read image_vectors, treating as empty")
		return []models.Entry{}
	}
	return toEntries(rows)
}

func (s *Store) Upsert(ctx context.Context, entry models.Entry) error {
	return s.UpsertAll(ctx, []models.Entry{entry})
}

func (s *Store) UpsertAll(ctx context.Context, entries []models.Entry) error {
	if err := vectorstore.Validate(entries); err != nil {
		return err
	}
	// one statement cannot touch the same key twice
	entries = vectorstore.Merge(nil, entries)
	if len(entries) == 0 {
		return nil
	}
	rows := toRows(entries)
	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (image_path) DO UPDATE").
		Set("source_doc = EXCLUDED.source_doc").
		Set("page = EXCLUDED.page").
		Set("vector = EXCLUDED.vector").
		Set("metadata = EXCLUDED.metadata").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert %d image vectors: %w", len(rows), err)
	}
	return nil
}

func (s *Store) DeleteBySource(ctx context.Context, sourceDoc string) ([]models.Entry, error) {
	if sourceDoc == "" {
		return []models.Entry{}, nil
	}
	var rows []ImageVector
	_, err := s.db.NewDelete().
		Model(&rows).
		Where("source_doc = ?", sourceDoc).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to delete image vectors of %s: %w", sourceDoc, err)
	}
	return toEntries(rows), nil
}

// DropImageVectors removes the table; used by tests.
func (s *Store) DropImageVectors(ctx context.Context) error {
	_, err := s.db.NewDropTable().Model((*ImageVector)(nil)).IfExists().Exec(ctx)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

func toRows(entries []models.Entry) []ImageVector {
	rows := make([]ImageVector, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, ImageVector{
			ImagePath: e.ImagePath,
			SourceDoc: e.SourceDoc,
			Page:      e.Page,
			Vector:    e.Vector,
			Metadata:  e.Metadata,
		})
	}
	return rows
}

func toEntries(rows []ImageVector) []models.Entry {
	entries := make([]models.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, models.Entry{
			Vector:    r.Vector,
			ImagePath: r.ImagePath,
			SourceDoc: r.SourceDoc,
			Page:      r.Page,
			Metadata:  r.Metadata,
		})
	}
	return entries
}
