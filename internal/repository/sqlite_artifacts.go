package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs2md/internal/common"
)

const artifactSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	batch_id   TEXT NOT NULL,
	filename   TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS artifacts_batch_idx ON artifacts(batch_id);
`

type sqliteArtifacts struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteArtifacts creates the artifacts table if missing and drops rows
// left by a previous process; batches never outlive the process that made
// them. The repository owns db and closes it on Close.
func NewSQLiteArtifacts(ctx context.Context, db *sql.DB, logger *slog.Logger) (ArtifactRepository, error) {
	if _, err := db.ExecContext(ctx, artifactSchema); err != nil {
		logger.Error("failed to create artifacts schema", "error", err)
		return nil, fmt.Errorf("create schema: %w", err)
	}
	res, err := db.ExecContext(ctx, `DELETE FROM artifacts`)
	if err != nil {
		logger.Error("failed to clear stale artifacts", "error", err)
		return nil, fmt.Errorf("clear artifacts: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.Info("stale artifacts cleared", "count", n)
	}
	return &sqliteArtifacts{db: db, logger: logger}, nil
}

func (r *sqliteArtifacts) Put(ctx context.Context, batchID uuid.UUID, filename string, data []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, batch_id, filename, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		id.String(), batchID.String(), filename, data, time.Now().UTC().UnixMilli())
	if err != nil {
		r.logger.Error("failed to store artifact", "batch_id", batchID, "filename", filename, "error", err)
		return uuid.Nil, err
	}
	return id, nil
}

func (r *sqliteArtifacts) Get(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	var (
		batchID string
		created int64
		a       = Artifact{ID: id}
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT batch_id, filename, data, created_at FROM artifacts WHERE id = ?`, id.String()).
		Scan(&batchID, &a.Filename, &a.Data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to load artifact", "id", id, "error", err)
		return nil, err
	}
	if a.BatchID, err = uuid.Parse(batchID); err != nil {
		return nil, fmt.Errorf("artifact %s: bad batch id: %w", id, err)
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	return &a, nil
}

func (r *sqliteArtifacts) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id.String())
	if err != nil {
		r.logger.Error("failed to delete artifact", "id", id, "error", err)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *sqliteArtifacts) DeleteBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE batch_id = ?`, batchID.String())
	if err != nil {
		r.logger.Error("failed to delete batch artifacts", "batch_id", batchID, "error", err)
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *sqliteArtifacts) Close() error {
	return r.db.Close()
}
