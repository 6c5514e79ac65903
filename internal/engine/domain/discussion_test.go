package domain

import (
	"testing"

	apperrors "github.com/duetapp/duet/internal/errors"
)

func testNote(author string) DiscussionNote {
	return DiscussionNote{
		AuthorID:        author,
		MediaURL:        "https://media.test/note",
		MediaKey:        "game/session-1/note0_" + author + ".m4a",
		DurationSeconds: 30,
	}
}

func TestValidateAudioMime(t *testing.T) {
	for _, mime := range []string{"audio/mpeg", "audio/mp3", "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/wav", "audio/webm", "audio/ogg", "Audio/M4A"} {
		if err := ValidateAudioMime(mime); err != nil {
			t.Fatalf("expected %q accepted: %v", mime, err)
		}
	}
	for _, mime := range []string{"video/mp4", "text/plain", ""} {
		if err := ValidateAudioMime(mime); !apperrors.IsCode(err, apperrors.CodeUnsupportedAudioMime) {
			t.Fatalf("expected %q rejected, got %v", mime, err)
		}
	}
}

func TestFirstNoteMovesToDiscussion(t *testing.T) {
	session := completedTruthsSession(t)

	if err := session.AddDiscussionNote(testNote("alice"), testNow); err != nil {
		t.Fatalf("add note: %v", err)
	}
	if session.Status != StatusDiscussion {
		t.Fatalf("expected discussion, got %s", StatusLabel(session.Status))
	}

	if err := session.AddDiscussionNote(testNote("bob"), testNow); err != nil {
		t.Fatalf("second note: %v", err)
	}
	if session.Status != StatusDiscussion {
		t.Fatalf("expected discussion to persist, got %s", StatusLabel(session.Status))
	}
	if len(session.Discussion) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(session.Discussion))
	}
}

func TestAddDiscussionNoteGuards(t *testing.T) {
	active := newActiveSession(t, VariantTruths)
	if err := active.AddDiscussionNote(testNote("alice"), testNow); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected rejection before completion, got %v", err)
	}

	session := completedTruthsSession(t)
	if err := session.AddDiscussionNote(testNote("mallory"), testNow); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	long := testNote("alice")
	long.DurationSeconds = MaxDiscussionNoteSeconds + 1
	if err := session.AddDiscussionNote(long, testNow); !apperrors.IsCode(err, apperrors.CodeNoteTooLong) {
		t.Fatalf("expected duration rejection, got %v", err)
	}

	badRound := testNote("alice")
	round := RoundCount + 1
	badRound.RoundNumber = &round
	if err := session.AddDiscussionNote(badRound, testNow); !apperrors.IsCode(err, apperrors.CodeQuestionOutOfRange) {
		t.Fatalf("expected round rejection, got %v", err)
	}
}

func TestMarkNoteListened(t *testing.T) {
	session := completedTruthsSession(t)
	if err := session.AddDiscussionNote(testNote("alice"), testNow); err != nil {
		t.Fatalf("add note: %v", err)
	}

	if err := session.MarkNoteListened("bob", 1); !apperrors.IsCode(err, apperrors.CodeNoteIndexOutOfRange) {
		t.Fatalf("expected index rejection, got %v", err)
	}
	if err := session.MarkNoteListened("bob", 0); err != nil {
		t.Fatalf("mark listened: %v", err)
	}
	if err := session.MarkNoteListened("bob", 0); err != nil {
		t.Fatalf("repeat mark: %v", err)
	}
	if got := session.Discussion[0].ListenedBy; len(got) != 1 || got[0] != "bob" {
		t.Fatalf("unexpected listeners %v", got)
	}
}

func TestSetNoteTranscriptionOwnerOnly(t *testing.T) {
	session := completedTruthsSession(t)
	if err := session.AddDiscussionNote(testNote("alice"), testNow); err != nil {
		t.Fatalf("add note: %v", err)
	}

	if err := session.SetNoteTranscription("bob", 0, "text"); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected owner-only rejection, got %v", err)
	}
	if err := session.SetNoteTranscription("alice", 0, "we should replay round 4"); err != nil {
		t.Fatalf("set transcription: %v", err)
	}
	if session.Discussion[0].Transcription != "we should replay round 4" {
		t.Fatal("transcription not stored")
	}

	// Closed sessions accept no further transcription writes.
	session.Status = StatusAbandoned
	if err := session.SetNoteTranscription("alice", 0, "late"); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition on closed session, got %v", err)
	}
}
