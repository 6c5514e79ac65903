package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/duetapp/duet/internal/errors"
)

// MaxDiscussionNoteSeconds caps the duration of a post-game voice note.
const MaxDiscussionNoteSeconds = 60

// allowedAudioMimes is the accepted set for uploaded voice audio.
var allowedAudioMimes = map[string]bool{
	"audio/mpeg":  true,
	"audio/mp3":   true,
	"audio/mp4":   true,
	"audio/m4a":   true,
	"audio/x-m4a": true,
	"audio/wav":   true,
	"audio/webm":  true,
	"audio/ogg":   true,
}

// ValidateAudioMime rejects audio content types outside the accepted set.
func ValidateAudioMime(mime string) error {
	if !allowedAudioMimes[strings.ToLower(strings.TrimSpace(mime))] {
		return apperrors.New(apperrors.CodeUnsupportedAudioMime,
			fmt.Sprintf("audio mime type %q is not supported", mime))
	}
	return nil
}

// DiscussionNote is a post-game voice note attached to a finished session.
type DiscussionNote struct {
	AuthorID        string    `json:"author_id"`
	MediaURL        string    `json:"media_url"`
	MediaKey        string    `json:"media_key"`
	DurationSeconds int       `json:"duration_seconds"`
	Transcription   string    `json:"transcription,omitempty"`
	RoundNumber     *int      `json:"round_number,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ListenedBy      []string  `json:"listened_by,omitempty"`
}

// CanAddDiscussionNote checks the author and status without appending, so
// rejected notes never reach the media sink or the transcriber.
func (s *Session) CanAddDiscussionNote(authorID string) error {
	if _, err := s.participantFor(authorID); err != nil {
		return err
	}
	if s.Status != StatusCompleted && s.Status != StatusDiscussion {
		return s.invalidTransition("post discussion note")
	}
	return nil
}

// AddDiscussionNote appends a voice note. The first note moves the session
// from completed to discussion; later notes keep it there.
func (s *Session) AddDiscussionNote(note DiscussionNote, now time.Time) error {
	if err := s.CanAddDiscussionNote(note.AuthorID); err != nil {
		return err
	}
	if strings.TrimSpace(note.MediaKey) == "" || strings.TrimSpace(note.MediaURL) == "" {
		return apperrors.New(apperrors.CodeEmptyAudio, "discussion note requires stored media")
	}
	if note.DurationSeconds > MaxDiscussionNoteSeconds {
		return apperrors.New(apperrors.CodeNoteTooLong,
			fmt.Sprintf("discussion note duration %ds exceeds %ds", note.DurationSeconds, MaxDiscussionNoteSeconds))
	}
	if note.RoundNumber != nil {
		if err := s.validateNoteRound(*note.RoundNumber); err != nil {
			return err
		}
	}
	note.CreatedAt = now.UTC()
	s.Discussion = append(s.Discussion, note)
	s.Status = StatusDiscussion
	return nil
}

// MarkNoteListened records the caller in the note's listened set.
func (s *Session) MarkNoteListened(callerID string, noteIndex int) error {
	if _, err := s.participantFor(callerID); err != nil {
		return err
	}
	if noteIndex < 0 || noteIndex >= len(s.Discussion) {
		return apperrors.New(apperrors.CodeNoteIndexOutOfRange,
			fmt.Sprintf("discussion note index %d is out of range", noteIndex))
	}
	note := &s.Discussion[noteIndex]
	for _, listener := range note.ListenedBy {
		if listener == callerID {
			return nil
		}
	}
	note.ListenedBy = append(note.ListenedBy, callerID)
	return nil
}

// SetNoteTranscription records a transcription on an owned discussion note.
func (s *Session) SetNoteTranscription(callerID string, noteIndex int, transcription string) error {
	if s.IsTerminal() {
		return s.invalidTransition("retry transcription")
	}
	if _, err := s.participantFor(callerID); err != nil {
		return err
	}
	if noteIndex < 0 || noteIndex >= len(s.Discussion) {
		return apperrors.New(apperrors.CodeNoteIndexOutOfRange,
			fmt.Sprintf("discussion note index %d is out of range", noteIndex))
	}
	if s.Discussion[noteIndex].AuthorID != callerID {
		return forbidden(s.ID)
	}
	s.Discussion[noteIndex].Transcription = transcription
	return nil
}

// validateNoteRound checks an optional slot reference on a note: a round
// index for Variant T, a question number for Variant W.
func (s *Session) validateNoteRound(round int) error {
	limit := RoundCount
	if s.Variant == VariantScenarios {
		limit = ScenarioQuestionCount
	}
	if round < 1 || round > limit {
		return apperrors.New(apperrors.CodeQuestionOutOfRange,
			fmt.Sprintf("referenced round %d is outside 1..%d", round, limit))
	}
	return nil
}
