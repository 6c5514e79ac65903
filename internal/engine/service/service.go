// Package service implements the game engine's state machine core and the
// submission orchestrator: every inbound action loads the session, applies a
// domain mutation, and persists it with optimistic concurrency.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/duetapp/duet/internal/ai"
	"github.com/duetapp/duet/internal/directory"
	"github.com/duetapp/duet/internal/engine/domain"
	"github.com/duetapp/duet/internal/engine/storage"
	apperrors "github.com/duetapp/duet/internal/errors"
	"github.com/duetapp/duet/internal/media"
	"github.com/duetapp/duet/internal/platform/id"
	"github.com/duetapp/duet/internal/transcriber"
)

// maxUpdateRetries bounds how many times a mutation is re-applied after a
// revision conflict before giving up.
const maxUpdateRetries = 3

// defaultAnalysisBackoff spaces out analyzer calls inside one analysis run.
const defaultAnalysisBackoff = 500 * time.Millisecond

// Config carries the service's collaborators and tunables.
type Config struct {
	Store       storage.SessionStore
	Media       media.Sink
	Transcriber transcriber.Transcriber
	Analyzer    ai.PairAnalyzer
	Insights    ai.InsightsGenerator
	Users       directory.UserDirectory
	Matches     directory.MatchDirectory

	InviteTTL  time.Duration
	SessionTTL time.Duration

	// AnalysisBackoff overrides the delay between analyzer calls. Tests
	// shrink it; zero means the default.
	AnalysisBackoff time.Duration

	Now         func() time.Time
	IDGenerator func() (string, error)
}

// Service coordinates the two-player game sessions.
type Service struct {
	store       storage.SessionStore
	media       media.Sink
	transcriber transcriber.Transcriber
	analyzer    ai.PairAnalyzer
	insights    ai.InsightsGenerator
	users       directory.UserDirectory
	matches     directory.MatchDirectory

	inviteTTL       time.Duration
	sessionTTL      time.Duration
	analysisBackoff time.Duration

	now         func() time.Time
	idGenerator func() (string, error)

	workers sync.WaitGroup
}

// New builds a Service. Store, Media, Transcriber, Analyzer, Users, and
// Matches are required; Insights may be nil, in which case sessions complete
// without narrative insights.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Media == nil {
		return nil, fmt.Errorf("media sink is required")
	}
	if cfg.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("pair analyzer is required")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if cfg.Matches == nil {
		return nil, fmt.Errorf("match directory is required")
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = domain.DefaultInviteTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = domain.DefaultSessionTTL
	}
	if cfg.AnalysisBackoff <= 0 {
		cfg.AnalysisBackoff = defaultAnalysisBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = id.NewID
	}
	return &Service{
		store:           cfg.Store,
		media:           cfg.Media,
		transcriber:     cfg.Transcriber,
		analyzer:        cfg.Analyzer,
		insights:        cfg.Insights,
		users:           cfg.Users,
		matches:         cfg.Matches,
		inviteTTL:       cfg.InviteTTL,
		sessionTTL:      cfg.SessionTTL,
		analysisBackoff: cfg.AnalysisBackoff,
		now:             cfg.Now,
		idGenerator:     cfg.IDGenerator,
	}, nil
}

// Drain blocks until every detached analysis worker has finished. Called on
// shutdown so in-flight analyses persist their results.
func (s *Service) Drain() {
	s.workers.Wait()
}

// mutate loads the session, applies fn, and persists the result with
// compare-and-set. Revision conflicts re-load and re-apply the mutation up
// to maxUpdateRetries times.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(*domain.Session) error) (domain.Session, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		session, err := s.load(ctx, sessionID)
		if err != nil {
			return domain.Session{}, err
		}
		if err := fn(&session); err != nil {
			return domain.Session{}, err
		}
		updated, err := s.store.Update(ctx, session)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return domain.Session{}, s.translateStoreError(sessionID, err)
		}
		lastErr = err
	}
	return domain.Session{}, apperrors.Wrap(apperrors.CodeConflict,
		fmt.Sprintf("session %s kept changing under concurrent updates", sessionID), lastErr)
}

func (s *Service) load(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, s.translateStoreError(sessionID, err)
	}
	return session, nil
}

func (s *Service) translateStoreError(sessionID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.WithMetadata(apperrors.CodeSessionNotFound,
			"session not found", map[string]string{"session_id": sessionID})
	}
	if errors.Is(err, storage.ErrConflict) {
		return apperrors.Wrap(apperrors.CodeConflict, "session revision conflict", err)
	}
	return apperrors.Wrap(apperrors.CodeUnknown, "session store failure", err)
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	name, err := s.users.DisplayName(ctx, userID)
	if err != nil || name == "" {
		log.Printf("service: display name lookup for %s failed: %v", userID, err)
		return userID
	}
	return name
}
