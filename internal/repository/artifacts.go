package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs2md/internal/common"
)

// Artifact is a debug PDF kept until its batch is released.
type Artifact struct {
	ID        uuid.UUID
	BatchID   uuid.UUID
	Filename  string
	Data      []byte
	CreatedAt time.Time
}

type ArtifactRepository interface {
	Put(ctx context.Context, batchID uuid.UUID, filename string, data []byte) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*Artifact, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteBatch(ctx context.Context, batchID uuid.UUID) (int, error)
	Close() error
}

// NewArtifactRepository picks the backend named in the storage config.
func NewArtifactRepository(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (ArtifactRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.ArtifactBackend {
	case "", "memory":
		return NewMemoryArtifacts(logger), nil
	case "sqlite":
		db, err := Open(ctx, Config{Path: cfg.SQLitePath}, logger)
		if err != nil {
			return nil, err
		}
		return NewSQLiteArtifacts(ctx, db, logger)
	}
	return nil, fmt.Errorf("unknown artifact backend %q", cfg.ArtifactBackend)
}

type memoryArtifacts struct {
	mu     sync.RWMutex
	items  map[uuid.UUID]*Artifact
	logger *slog.Logger
}

func NewMemoryArtifacts(logger *slog.Logger) ArtifactRepository {
	return &memoryArtifacts{items: make(map[uuid.UUID]*Artifact), logger: logger}
}

func (m *memoryArtifacts) Put(_ context.Context, batchID uuid.UUID, filename string, data []byte) (uuid.UUID, error) {
	id := uuid.New()
	m.mu.Lock()
	m.items[id] = &Artifact{ID: id, BatchID: batchID, Filename: filename, Data: data, CreatedAt: time.Now().UTC()}
	m.mu.Unlock()
	return id, nil
}

func (m *memoryArtifacts) Get(_ context.Context, id uuid.UUID) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.items[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memoryArtifacts) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return common.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memoryArtifacts) DeleteBatch(_ context.Context, batchID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, a := range m.items {
		if a.BatchID == batchID {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *memoryArtifacts) Close() error { return nil }
