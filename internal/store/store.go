package store

import (
	"context"
	"errors"
	"time"

	"github.com/siteinventory/spdash/internal/model"
)

// ErrNotFound is returned when a session or dataset does not exist.
var ErrNotFound = errors.New("not found")

// Stats summarises what the store currently holds.
type Stats struct {
	Sessions int
	Datasets int
	Rows     int64
}

// Store defines the persistence interface for dashboard sessions.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	TouchSession(ctx context.Context, id string, seenAt, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Datasets, one per session
	ReplaceDataset(ctx context.Context, ds *model.Dataset) error
	GetDataset(ctx context.Context, sessionID string) (*model.Dataset, error)
	// DatasetID returns the ID of the session's dataset without decoding it.
	DatasetID(ctx context.Context, sessionID string) (string, error)
	DeleteDataset(ctx context.Context, sessionID string) error

	Stats(ctx context.Context) (Stats, error)
}
