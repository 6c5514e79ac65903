// Package storage defines the persistence contracts for game sessions.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/duetapp/duet/internal/engine/domain"
)

var (
	// ErrNotFound indicates a requested session is missing.
	ErrNotFound = errors.New("session not found")
	// ErrConflict indicates the stored revision differs from the one the
	// caller read. The caller may re-read and retry.
	ErrConflict = errors.New("session revision conflict")
	// ErrAlreadyExists indicates a create collided with a stored session.
	ErrAlreadyExists = errors.New("session already exists")
)

// SessionStore persists session aggregates with indexed lookups by
// participant, status, and expiry. Update is compare-and-set on the
// session's revision; all cross-request serialization relies on it.
type SessionStore interface {
	Create(ctx context.Context, session domain.Session) error
	GetBySessionID(ctx context.Context, sessionID string) (domain.Session, error)
	GetActiveForUser(ctx context.Context, userID string) ([]domain.Session, error)
	FindPendingFor(ctx context.Context, userID string) ([]domain.Session, error)
	FindExpiredBefore(ctx context.Context, instant time.Time) ([]domain.Session, error)
	FindTerminalBefore(ctx context.Context, instant time.Time) ([]domain.Session, error)
	FindAnalyzing(ctx context.Context) ([]domain.Session, error)
	Update(ctx context.Context, session domain.Session) (domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
}
