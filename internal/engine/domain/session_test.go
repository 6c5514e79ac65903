package domain

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/duetapp/duet/internal/errors"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func fixedIDGenerator(value string) func() (string, error) {
	return func() (string, error) { return value, nil }
}

func newPendingSession(t *testing.T, variant Variant) Session {
	t.Helper()
	session, err := CreateSession(CreateSessionInput{
		Variant:     variant,
		MatchID:     "match-1",
		InviterID:   "alice",
		InviteeID:   "bob",
		InviterName: "Alice",
		InviteeName: "Bob",
	}, fixedNow, fixedIDGenerator("session-1"))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func newActiveSession(t *testing.T, variant Variant) Session {
	t.Helper()
	session := newPendingSession(t, variant)
	if err := session.Accept("bob", testNow, DefaultSessionTTL); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return session
}

func TestCreateSessionDefaults(t *testing.T) {
	session := newPendingSession(t, VariantScenarios)

	if session.Status != StatusPending {
		t.Fatalf("expected pending, got %s", StatusLabel(session.Status))
	}
	if session.ID != "session-1" {
		t.Fatalf("unexpected id %q", session.ID)
	}
	if got := session.ExpiresAt; !got.Equal(testNow.Add(DefaultInviteTTL)) {
		t.Fatalf("unexpected expiry %v", got)
	}
	if session.Revision != 0 {
		t.Fatalf("expected revision 0, got %d", session.Revision)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	cases := []struct {
		name  string
		input CreateSessionInput
		code  apperrors.Code
	}{
		{"missing variant", CreateSessionInput{MatchID: "m", InviterID: "a", InviteeID: "b"}, apperrors.CodeInvalidVariant},
		{"missing match", CreateSessionInput{Variant: VariantTruths, InviterID: "a", InviteeID: "b"}, apperrors.CodeEmptyMatchID},
		{"missing invitee", CreateSessionInput{Variant: VariantTruths, MatchID: "m", InviterID: "a"}, apperrors.CodeEmptyUserID},
		{"same participant", CreateSessionInput{Variant: VariantTruths, MatchID: "m", InviterID: "a", InviteeID: "a"}, apperrors.CodeEmptyUserID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CreateSession(tc.input, fixedNow, nil)
			if !apperrors.IsCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestAcceptInviteeOnly(t *testing.T) {
	session := newPendingSession(t, VariantTruths)

	if err := session.Accept("alice", testNow, DefaultSessionTTL); !apperrors.IsCode(err, apperrors.CodeInviteeOnly) {
		t.Fatalf("expected invitee-only error, got %v", err)
	}
	if err := session.Accept("mallory", testNow, DefaultSessionTTL); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden for outsider, got %v", err)
	}

	if err := session.Accept("bob", testNow, DefaultSessionTTL); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if session.Status != StatusActive {
		t.Fatalf("expected active, got %s", StatusLabel(session.Status))
	}
	if session.AcceptedAt == nil || !session.AcceptedAt.Equal(testNow) {
		t.Fatalf("unexpected accepted at %v", session.AcceptedAt)
	}
	if !session.ExpiresAt.Equal(testNow.Add(DefaultSessionTTL)) {
		t.Fatalf("expected expiry extended on accept, got %v", session.ExpiresAt)
	}
}

func TestDeclineTerminates(t *testing.T) {
	session := newPendingSession(t, VariantScenarios)

	if err := session.Decline("bob"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if session.Status != StatusDeclined {
		t.Fatalf("expected declined, got %s", StatusLabel(session.Status))
	}
	if !session.IsTerminal() {
		t.Fatal("expected terminal")
	}

	// No further action is legal on a declined session.
	if err := session.Accept("bob", testNow, 0); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := session.Cancel("alice", ""); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestCancelFromNonTerminal(t *testing.T) {
	session := newActiveSession(t, VariantTruths)

	if err := session.Cancel("outsider", "bored"); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := session.Cancel("alice", "changed my mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if session.Status != StatusAbandoned {
		t.Fatalf("expected abandoned, got %s", StatusLabel(session.Status))
	}
	if session.CancelReason != "changed my mind" {
		t.Fatalf("unexpected reason %q", session.CancelReason)
	}
}

func TestExpireRequiresDeadlinePassed(t *testing.T) {
	session := newPendingSession(t, VariantTruths)

	if err := session.Expire(testNow.Add(time.Hour)); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected expire before deadline to fail, got %v", err)
	}
	if err := session.Expire(testNow.Add(73 * time.Hour)); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if session.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", StatusLabel(session.Status))
	}
	if err := session.Expire(testNow.Add(100 * time.Hour)); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected terminal expire to fail, got %v", err)
	}
}

func TestViewResultsRecordsViewerOnce(t *testing.T) {
	session := newActiveSession(t, VariantTruths)
	if err := session.ViewResults("alice"); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected view before completion to fail, got %v", err)
	}

	session.Status = StatusCompleted
	if err := session.ViewResults("alice"); err != nil {
		t.Fatalf("view: %v", err)
	}
	if err := session.ViewResults("alice"); err != nil {
		t.Fatalf("repeat view: %v", err)
	}
	if len(session.ViewedResultsBy) != 1 || session.ViewedResultsBy[0] != "alice" {
		t.Fatalf("unexpected viewers %v", session.ViewedResultsBy)
	}
}

func TestRoleOf(t *testing.T) {
	session := newPendingSession(t, VariantTruths)
	if session.RoleOf("alice") != RoleA {
		t.Fatal("expected alice to be role A")
	}
	if session.RoleOf("bob") != RoleB {
		t.Fatal("expected bob to be role B")
	}
	if session.RoleOf("mallory") != RoleNone {
		t.Fatal("expected outsider to have no role")
	}
}

func TestStatusLabelRoundTrip(t *testing.T) {
	statuses := []Status{
		StatusPending, StatusActive, StatusWaiting, StatusAnalyzing,
		StatusCompleted, StatusDiscussion, StatusExpired, StatusDeclined,
		StatusAbandoned,
	}
	for _, status := range statuses {
		if got := StatusFromLabel(StatusLabel(status)); got != status {
			t.Fatalf("round trip mismatch for %d: got %d", status, got)
		}
	}
	if StatusFromLabel("bogus") != StatusUnspecified {
		t.Fatal("expected unspecified for unknown label")
	}
}

func TestVariantLabelRoundTrip(t *testing.T) {
	for _, variant := range []Variant{VariantTruths, VariantScenarios} {
		if got := VariantFromLabel(VariantLabel(variant)); got != variant {
			t.Fatalf("round trip mismatch for %d: got %d", variant, got)
		}
	}
}

func TestMediaKeysCollectsAllSlots(t *testing.T) {
	session := newActiveSession(t, VariantScenarios)
	session.ParticipantA.VoiceAnswers = map[int]VoiceAnswer{
		1: {MediaKey: "game/session-1/q1_alice.m4a", MediaURL: "u1"},
		2: {MediaKey: "game/session-1/q2_alice.m4a", MediaURL: "u2"},
	}
	session.ParticipantB.VoiceAnswers = map[int]VoiceAnswer{
		1: {MediaKey: "game/session-1/q1_bob.m4a", MediaURL: "u3"},
	}
	session.Discussion = []DiscussionNote{{AuthorID: "alice", MediaKey: "game/session-1/note0_alice.m4a", MediaURL: "u4"}}

	keys := session.MediaKeys()
	if len(keys) != 4 {
		t.Fatalf("expected 4 keys, got %d: %v", len(keys), keys)
	}
}

func TestForbiddenErrorCarriesSessionID(t *testing.T) {
	session := newActiveSession(t, VariantTruths)
	err := session.Cancel("mallory", "")

	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected domain error, got %T", err)
	}
	if appErr.Metadata["session_id"] != "session-1" {
		t.Fatalf("expected session id metadata, got %v", appErr.Metadata)
	}
}
