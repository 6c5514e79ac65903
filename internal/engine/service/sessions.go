package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/duetapp/duet/internal/engine/domain"
	"github.com/duetapp/duet/internal/engine/storage"
	apperrors "github.com/duetapp/duet/internal/errors"
)

// CreateInvitationInput describes a new game invitation.
type CreateInvitationInput struct {
	Variant   domain.Variant
	MatchID   string
	InviterID string
	InviteeID string
}

// CreateInvitation opens a pending session between two mutually matched
// users. The inviter becomes participant A, the invitee participant B.
func (s *Service) CreateInvitation(ctx context.Context, input CreateInvitationInput) (SessionView, error) {
	normalized, err := domain.NormalizeCreateSessionInput(domain.CreateSessionInput{
		Variant:   input.Variant,
		MatchID:   input.MatchID,
		InviterID: input.InviterID,
		InviteeID: input.InviteeID,
		InviteTTL: s.inviteTTL,
	})
	if err != nil {
		return SessionView{}, err
	}

	mutual, err := s.matches.IsMutual(ctx, normalized.MatchID, normalized.InviterID, normalized.InviteeID)
	if err != nil {
		return SessionView{}, apperrors.Wrap(apperrors.CodeUnknown, "match directory lookup failed", err)
	}
	if !mutual {
		return SessionView{}, apperrors.WithMetadata(apperrors.CodeMatchNotMutual,
			"participants do not share a mutual match",
			map[string]string{"match_id": normalized.MatchID})
	}

	normalized.InviterName = s.displayName(ctx, normalized.InviterID)
	normalized.InviteeName = s.displayName(ctx, normalized.InviteeID)

	session, err := domain.CreateSession(normalized, s.now, s.idGenerator)
	if err != nil {
		return SessionView{}, err
	}
	if err := s.store.Create(ctx, session); err != nil {
		return SessionView{}, s.translateCreateError(session.ID, err)
	}
	return sessionViewFor(&session, session.ParticipantA.UserID), nil
}

// AcceptInvitation moves a pending invitation to active. Invitee only.
func (s *Service) AcceptInvitation(ctx context.Context, sessionID, callerID string) (SessionView, error) {
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		return session.Accept(callerID, s.now(), s.sessionTTL)
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

// DeclineInvitation moves a pending invitation to declined. Invitee only.
func (s *Service) DeclineInvitation(ctx context.Context, sessionID, callerID string) (SessionView, error) {
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		return session.Decline(callerID)
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

// Cancel abandons a non-terminal session. Either participant may cancel.
func (s *Service) Cancel(ctx context.Context, sessionID, callerID, reason string) (SessionView, error) {
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		return session.Cancel(callerID, reason)
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

// GetSessionState returns the caller-scoped view of a session.
func (s *Service) GetSessionState(ctx context.Context, sessionID, callerID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if session.RoleOf(callerID) == domain.RoleNone {
		return SessionView{}, apperrors.WithMetadata(apperrors.CodeForbidden,
			"caller is not a session participant", map[string]string{"session_id": sessionID})
	}
	return sessionViewFor(&session, callerID), nil
}

// ListSessionsForUser returns the user's in-flight sessions plus pending
// invitations addressed to them, for the client's resume screen.
func (s *Service) ListSessionsForUser(ctx context.Context, userID string) ([]SessionView, error) {
	active, err := s.store.GetActiveForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "list active sessions", err)
	}
	pending, err := s.store.FindPendingFor(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "list pending invitations", err)
	}

	views := make([]SessionView, 0, len(active)+len(pending))
	for i := range active {
		views = append(views, sessionViewFor(&active[i], userID))
	}
	for i := range pending {
		views = append(views, sessionViewFor(&pending[i], userID))
	}
	return views, nil
}

// GetResults returns the finished session's outcome and records the caller
// as having viewed it.
func (s *Service) GetResults(ctx context.Context, sessionID, callerID string) (ResultsView, error) {
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		return session.ViewResults(callerID)
	})
	if err != nil {
		return ResultsView{}, err
	}
	return resultsViewFor(&updated), nil
}

// RequestRestart records a rematch request on a finished Variant T session.
func (s *Service) RequestRestart(ctx context.Context, sessionID, callerID string) (SessionView, error) {
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		return session.RequestRestart(callerID)
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

// AcceptRestart starts the replacement session, already active and with
// lineage recorded, and only then clears the pending request. A failed
// create leaves the request in place so the acceptance can be retried.
func (s *Service) AcceptRestart(ctx context.Context, sessionID, callerID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	next, err := session.AcceptRestart(callerID, s.now, s.idGenerator, s.sessionTTL)
	if err != nil {
		return SessionView{}, err
	}
	if err := s.store.Create(ctx, next); err != nil {
		return SessionView{}, s.translateCreateError(next.ID, err)
	}
	if _, err := s.mutate(ctx, sessionID, func(sess *domain.Session) error {
		return sess.ClearRestartRequest(callerID)
	}); err != nil {
		if delErr := s.store.Delete(ctx, next.ID); delErr != nil {
			log.Printf("service: restart replacement %s left behind after clear failure: %v", next.ID, delErr)
		}
		return SessionView{}, err
	}
	return sessionViewFor(&next, callerID), nil
}

// DeclineRestart clears a pending restart request without other effect.
func (s *Service) DeclineRestart(ctx context.Context, sessionID, callerID string) (SessionView, error) {
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		return session.DeclineRestart(callerID)
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

func (s *Service) translateCreateError(sessionID string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.GetCode(err) != apperrors.CodeUnknown {
		return err
	}
	if errors.Is(err, storage.ErrAlreadyExists) {
		return apperrors.WithMetadata(apperrors.CodeConflict,
			fmt.Sprintf("session %s already exists", sessionID),
			map[string]string{"session_id": sessionID})
	}
	return apperrors.Wrap(apperrors.CodeUnknown, "persist session", err)
}
