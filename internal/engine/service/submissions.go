package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/duetapp/duet/internal/engine/domain"
	apperrors "github.com/duetapp/duet/internal/errors"
	"github.com/duetapp/duet/internal/media"
)

// SubmitStatements records a participant's 10 statement rounds (Variant T).
func (s *Service) SubmitStatements(ctx context.Context, sessionID, callerID string, rounds []domain.StatementRound) (SessionView, error) {
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		return session.SubmitStatements(callerID, rounds, s.now())
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

// SubmitAnswers records a participant's 10 guesses against the partner's
// statements (Variant T). When the second participant finishes, scoring is
// synchronous and the returned view already carries completed status.
func (s *Service) SubmitAnswers(ctx context.Context, sessionID, callerID string, answers []domain.Answer) (SessionView, error) {
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		return session.SubmitAnswers(callerID, answers, s.now())
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

// VoiceAnswerInput is one recorded answer to a scenario question.
type VoiceAnswerInput struct {
	QuestionNumber  int
	Audio           []byte
	MimeType        string
	DurationSeconds int
}

// SubmitVoiceAnswer runs the ingress pipeline for a Variant W answer: store
// the audio under its deterministic key, transcribe best-effort, then apply
// the submission. A failed transcription never rejects the answer; the slot
// is marked failed and the participant may retry later. When the submission
// completes the second participant, the analysis worker is scheduled.
func (s *Service) SubmitVoiceAnswer(ctx context.Context, sessionID, callerID string, input VoiceAnswerInput) (SessionView, error) {
	if err := domain.ValidateAudioMime(input.MimeType); err != nil {
		return SessionView{}, err
	}
	if len(input.Audio) == 0 {
		return SessionView{}, apperrors.New(apperrors.CodeEmptyAudio, "voice answer audio is empty")
	}

	// Authorize against the current session before touching storage, so a
	// rejected submission leaves no orphaned audio behind.
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if err := session.CanSubmitVoiceAnswer(callerID, input.QuestionNumber); err != nil {
		return SessionView{}, err
	}

	key := media.AnswerKey(sessionID, input.QuestionNumber, callerID, input.MimeType)
	stored, err := s.media.Put(ctx, input.Audio, key, input.MimeType)
	if err != nil {
		return SessionView{}, err
	}

	transcription, status := s.transcribe(ctx, sessionID, input.Audio, input.MimeType)

	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		return session.SubmitVoiceAnswer(callerID, input.QuestionNumber, domain.VoiceAnswer{
			MediaURL:            stored.URL,
			MediaKey:            stored.Key,
			DurationSeconds:     input.DurationSeconds,
			Transcription:       transcription,
			TranscriptionStatus: status,
		}, s.now())
	})
	if err != nil {
		return SessionView{}, err
	}
	if updated.Status == domain.StatusAnalyzing {
		s.scheduleAnalysis(updated.ID)
	}
	return sessionViewFor(&updated, callerID), nil
}

// RetryTranscription re-runs transcription for one of the caller's own
// slots: "q<N>" for a voice answer, "note<N>" for a discussion note.
func (s *Service) RetryTranscription(ctx context.Context, sessionID, callerID, slot string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	role := session.RoleOf(callerID)
	if role == domain.RoleNone {
		return SessionView{}, apperrors.WithMetadata(apperrors.CodeForbidden,
			"caller is not a session participant", map[string]string{"session_id": sessionID})
	}
	if session.IsTerminal() {
		return SessionView{}, apperrors.WithMetadata(apperrors.CodeInvalidTransition,
			"cannot retry transcription on a closed session",
			map[string]string{"session_id": sessionID, "status": domain.StatusLabel(session.Status)})
	}

	switch {
	case strings.HasPrefix(slot, "q"):
		question, err := strconv.Atoi(strings.TrimPrefix(slot, "q"))
		if err != nil {
			return SessionView{}, invalidSlot(slot)
		}
		return s.retryAnswerTranscription(ctx, &session, callerID, role, question)
	case strings.HasPrefix(slot, "note"):
		index, err := strconv.Atoi(strings.TrimPrefix(slot, "note"))
		if err != nil {
			return SessionView{}, invalidSlot(slot)
		}
		return s.retryNoteTranscription(ctx, &session, callerID, index)
	default:
		return SessionView{}, invalidSlot(slot)
	}
}

func (s *Service) retryAnswerTranscription(ctx context.Context, session *domain.Session, callerID string, role domain.Role, question int) (SessionView, error) {
	participant := session.ParticipantA
	if role == domain.RoleB {
		participant = session.ParticipantB
	}
	answer, ok := participant.VoiceAnswers[question]
	if !ok {
		return SessionView{}, apperrors.New(apperrors.CodeTranscriptionSlotEmpty,
			fmt.Sprintf("no voice answer stored for question %d", question))
	}
	if answer.TranscriptionStatus == domain.TranscriptionCompleted {
		return SessionView{}, apperrors.New(apperrors.CodeInvalidTransition,
			fmt.Sprintf("transcription for question %d already succeeded", question))
	}

	blob, err := s.media.Get(ctx, answer.MediaKey)
	if err != nil {
		return SessionView{}, err
	}
	transcription, status := s.transcribe(ctx, session.ID, blob, mimeForKey(answer.MediaKey))
	if status != domain.TranscriptionCompleted {
		return SessionView{}, apperrors.New(apperrors.CodeTranscriptionUnavailable,
			fmt.Sprintf("transcription retry for question %d failed", question))
	}

	updated, err := s.mutate(ctx, session.ID, func(sess *domain.Session) error {
		return sess.SetVoiceTranscription(callerID, question, transcription, status)
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

func (s *Service) retryNoteTranscription(ctx context.Context, session *domain.Session, callerID string, index int) (SessionView, error) {
	if index < 0 || index >= len(session.Discussion) {
		return SessionView{}, apperrors.New(apperrors.CodeNoteIndexOutOfRange,
			fmt.Sprintf("discussion note index %d is out of range", index))
	}
	note := session.Discussion[index]
	if note.AuthorID != callerID {
		return SessionView{}, apperrors.WithMetadata(apperrors.CodeForbidden,
			"only the note's author may retry its transcription",
			map[string]string{"session_id": session.ID})
	}

	blob, err := s.media.Get(ctx, note.MediaKey)
	if err != nil {
		return SessionView{}, err
	}
	transcription, status := s.transcribe(ctx, session.ID, blob, mimeForKey(note.MediaKey))
	if status != domain.TranscriptionCompleted {
		return SessionView{}, apperrors.New(apperrors.CodeTranscriptionUnavailable,
			fmt.Sprintf("transcription retry for note %d failed", index))
	}

	updated, err := s.mutate(ctx, session.ID, func(sess *domain.Session) error {
		return sess.SetNoteTranscription(callerID, index, transcription)
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

// DiscussionNoteInput is one post-game voice note.
type DiscussionNoteInput struct {
	Audio           []byte
	MimeType        string
	DurationSeconds int
	RoundNumber     *int
}

// PostDiscussionNote attaches a voice note to a finished session. The
// note's media key is derived from its position, so the upload happens
// inside the mutation where the position is stable.
func (s *Service) PostDiscussionNote(ctx context.Context, sessionID, callerID string, input DiscussionNoteInput) (SessionView, error) {
	if err := domain.ValidateAudioMime(input.MimeType); err != nil {
		return SessionView{}, err
	}
	if len(input.Audio) == 0 {
		return SessionView{}, apperrors.New(apperrors.CodeEmptyAudio, "discussion note audio is empty")
	}
	if input.DurationSeconds > domain.MaxDiscussionNoteSeconds {
		return SessionView{}, apperrors.New(apperrors.CodeNoteTooLong,
			fmt.Sprintf("discussion note duration %ds exceeds %ds", input.DurationSeconds, domain.MaxDiscussionNoteSeconds))
	}

	// Authorize before transcribing so a forbidden or out-of-phase caller
	// never drives the transcriber or the media sink.
	current, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if err := current.CanAddDiscussionNote(callerID); err != nil {
		return SessionView{}, err
	}

	transcription, status := s.transcribe(ctx, sessionID, input.Audio, input.MimeType)
	if status != domain.TranscriptionCompleted {
		transcription = ""
	}

	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		if err := session.CanAddDiscussionNote(callerID); err != nil {
			return err
		}
		index := len(session.Discussion)
		key := media.NoteKey(sessionID, index, callerID, input.MimeType)
		stored, err := s.media.Put(ctx, input.Audio, key, input.MimeType)
		if err != nil {
			return err
		}
		return session.AddDiscussionNote(domain.DiscussionNote{
			AuthorID:        callerID,
			MediaURL:        stored.URL,
			MediaKey:        stored.Key,
			DurationSeconds: input.DurationSeconds,
			Transcription:   transcription,
			RoundNumber:     input.RoundNumber,
		}, s.now())
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

// MarkDiscussionNoteListened records the caller as having heard a note.
func (s *Service) MarkDiscussionNoteListened(ctx context.Context, sessionID, callerID string, noteIndex int) (SessionView, error) {
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		return session.MarkNoteListened(callerID, noteIndex)
	})
	if err != nil {
		return SessionView{}, err
	}
	return sessionViewFor(&updated, callerID), nil
}

// transcribe runs the transcriber and reports the outcome without failing:
// transcription is best-effort everywhere it is used.
func (s *Service) transcribe(ctx context.Context, sessionID string, blob []byte, mimeType string) (string, domain.TranscriptionStatus) {
	text, err := s.transcriber.Transcribe(ctx, blob, mimeType)
	if err != nil {
		log.Printf("service: transcription for session %s failed: %v", sessionID, err)
		return "", domain.TranscriptionFailed
	}
	return text, domain.TranscriptionCompleted
}

// mimeForKey recovers an audio mime type from a stored key's extension, for
// retries where the original upload's content type is no longer at hand.
func mimeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(key, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(key, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(key, ".webm"):
		return "audio/webm"
	case strings.HasSuffix(key, ".ogg"):
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

func invalidSlot(slot string) error {
	return apperrors.New(apperrors.CodeTranscriptionSlotEmpty,
		fmt.Sprintf("unknown transcription slot %q", slot))
}
