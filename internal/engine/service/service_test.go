package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/duetapp/duet/internal/directory"
	"github.com/duetapp/duet/internal/engine/domain"
	"github.com/duetapp/duet/internal/engine/storage"
	apperrors "github.com/duetapp/duet/internal/errors"
	"github.com/duetapp/duet/internal/media"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session

	// conflictsBeforeUpdate makes the next N updates fail with ErrConflict
	// while still leaving the stored session untouched.
	conflictsBeforeUpdate int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]domain.Session)}
}

func (f *fakeStore) Create(_ context.Context, session domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.sessions[session.ID]; exists {
		return storage.ErrAlreadyExists
	}
	session.Revision = 0
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeStore) GetBySessionID(_ context.Context, sessionID string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return domain.Session{}, storage.ErrNotFound
	}
	return session, nil
}

func (f *fakeStore) GetActiveForUser(_ context.Context, userID string) ([]domain.Session, error) {
	return f.filter(func(s domain.Session) bool {
		if s.ParticipantA.UserID != userID && s.ParticipantB.UserID != userID {
			return false
		}
		switch s.Status {
		case domain.StatusActive, domain.StatusWaiting, domain.StatusAnalyzing:
			return true
		default:
			return false
		}
	}), nil
}

func (f *fakeStore) FindPendingFor(_ context.Context, userID string) ([]domain.Session, error) {
	return f.filter(func(s domain.Session) bool {
		return s.Status == domain.StatusPending && s.ParticipantB.UserID == userID
	}), nil
}

func (f *fakeStore) FindExpiredBefore(_ context.Context, instant time.Time) ([]domain.Session, error) {
	return f.filter(func(s domain.Session) bool {
		return !s.IsTerminal() && s.ExpiresAt.Before(instant)
	}), nil
}

func (f *fakeStore) FindTerminalBefore(_ context.Context, instant time.Time) ([]domain.Session, error) {
	return f.filter(func(s domain.Session) bool {
		return s.IsTerminal()
	}), nil
}

func (f *fakeStore) FindAnalyzing(_ context.Context) ([]domain.Session, error) {
	return f.filter(func(s domain.Session) bool {
		return s.Status == domain.StatusAnalyzing
	}), nil
}

func (f *fakeStore) Update(_ context.Context, session domain.Session) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictsBeforeUpdate > 0 {
		f.conflictsBeforeUpdate--
		return domain.Session{}, storage.ErrConflict
	}
	stored, ok := f.sessions[session.ID]
	if !ok {
		return domain.Session{}, storage.ErrNotFound
	}
	if stored.Revision != session.Revision {
		return domain.Session{}, storage.ErrConflict
	}
	session.Revision++
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeStore) Delete(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeStore) filter(keep func(domain.Session) bool) []domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, session := range f.sessions {
		if keep(session) {
			out = append(out, session)
		}
	}
	return out
}

type fakeSink struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{blobs: make(map[string][]byte)}
}

func (f *fakeSink) Put(_ context.Context, blob []byte, key, _ string) (media.PutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	f.blobs[key] = stored
	return media.PutResult{
		URL:  "https://media.test/" + key,
		Key:  key,
		Size: int64(len(blob)),
	}, nil
}

func (f *fakeSink) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.blobs[key]
	if !ok {
		return nil, apperrors.New(apperrors.CodeMediaUnavailable, "blob not found")
	}
	return blob, nil
}

func (f *fakeSink) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	return nil
}

type fakeTranscriber struct {
	mu   sync.Mutex
	fn   func(blob []byte, mimeType string) (string, error)
	seen int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, blob []byte, mimeType string) (string, error) {
	f.mu.Lock()
	f.seen++
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(blob, mimeType)
	}
	return "said: " + string(blob), nil
}

func (f *fakeTranscriber) setFn(fn func(blob []byte, mimeType string) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
}

type fakeAnalyzer struct {
	mu        sync.Mutex
	scores    map[int]int
	errOn     map[int]error
	questions []int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, question domain.ScenarioQuestion, _, _, _, _ string) (domain.PairAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, question.Number)
	if err, ok := f.errOn[question.Number]; ok {
		return domain.PairAnalysis{}, err
	}
	score := 75
	if s, ok := f.scores[question.Number]; ok {
		score = s
	}
	return domain.PairAnalysis{
		QuestionNumber:    question.Number,
		Category:          question.Category,
		AlignmentScore:    score,
		AlignmentLevel:    domain.AlignmentLevelFor(score),
		ComparisonInsight: fmt.Sprintf("insight for question %d", question.Number),
		DiscussionPrompt:  fmt.Sprintf("prompt for question %d", question.Number),
	}, nil
}

type fakeInsights struct {
	mu     sync.Mutex
	record domain.InsightsRecord
	err    error
	calls  int
}

func (f *fakeInsights) Summarize(_ context.Context, _ *domain.ScenarioResults, _, _ string) (domain.InsightsRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.InsightsRecord{}, f.err
	}
	return f.record, nil
}

type harness struct {
	svc         *Service
	store       *fakeStore
	sink        *fakeSink
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
	insights    *fakeInsights
	dir         *directory.Static
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := directory.NewStatic()
	dir.SetDisplayName("alice", "Alice")
	dir.SetDisplayName("bob", "Bob")
	dir.SetMutualMatch("match-1", "alice", "bob")

	h := &harness{
		store:       newFakeStore(),
		sink:        newFakeSink(),
		transcriber: &fakeTranscriber{},
		analyzer:    &fakeAnalyzer{},
		insights:    &fakeInsights{record: domain.InsightsRecord{OverallSummary: "a good pair"}},
		dir:         dir,
	}

	var idCounter int
	svc, err := New(Config{
		Store:           h.store,
		Media:           h.sink,
		Transcriber:     h.transcriber,
		Analyzer:        h.analyzer,
		Insights:        h.insights,
		Users:           dir,
		Matches:         dir,
		AnalysisBackoff: time.Millisecond,
		Now:             func() time.Time { return testNow },
		IDGenerator: func() (string, error) {
			idCounter++
			return fmt.Sprintf("session-%d", idCounter), nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.svc = svc
	return h
}

// activeSession creates and accepts an invitation, returning the session ID.
func activeSession(t *testing.T, h *harness, variant domain.Variant) string {
	t.Helper()
	created, err := h.svc.CreateInvitation(context.Background(), CreateInvitationInput{
		Variant:   variant,
		MatchID:   "match-1",
		InviterID: "alice",
		InviteeID: "bob",
	})
	if err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}
	if _, err := h.svc.AcceptInvitation(context.Background(), created.SessionID, "bob"); err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}
	return created.SessionID
}

func roundsWithLies(lies [domain.RoundCount]int) []domain.StatementRound {
	rounds := make([]domain.StatementRound, domain.RoundCount)
	for i := range rounds {
		for j := 0; j < domain.StatementsPerRound; j++ {
			rounds[i].Statements[j] = domain.Statement{
				Text:  fmt.Sprintf("round %d statement %d", i+1, j+1),
				IsLie: j == lies[i],
			}
		}
	}
	return rounds
}

func answersSelecting(indexes [domain.RoundCount]int) []domain.Answer {
	answers := make([]domain.Answer, domain.RoundCount)
	for i, index := range indexes {
		answers[i] = domain.Answer{SelectedIndex: index}
	}
	return answers
}

func TestCreateInvitation(t *testing.T) {
	h := newHarness(t)
	view, err := h.svc.CreateInvitation(context.Background(), CreateInvitationInput{
		Variant:   domain.VariantTruths,
		MatchID:   "match-1",
		InviterID: "alice",
		InviteeID: "bob",
	})
	if err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}
	if view.Status != "pending" {
		t.Fatalf("status = %q, want pending", view.Status)
	}
	if view.You.UserID != "alice" || view.Partner.UserID != "bob" {
		t.Fatalf("view sides = %q/%q, want alice/bob", view.You.UserID, view.Partner.UserID)
	}
	if view.You.DisplayName != "Alice" || view.Partner.DisplayName != "Bob" {
		t.Fatalf("display names = %q/%q", view.You.DisplayName, view.Partner.DisplayName)
	}
	if want := testNow.Add(domain.DefaultInviteTTL); !view.ExpiresAt.Equal(want) {
		t.Fatalf("expires at = %v, want %v", view.ExpiresAt, want)
	}
}

func TestCreateInvitationRequiresMutualMatch(t *testing.T) {
	h := newHarness(t)
	h.dir.SetDisplayName("carol", "Carol")

	_, err := h.svc.CreateInvitation(context.Background(), CreateInvitationInput{
		Variant:   domain.VariantTruths,
		MatchID:   "match-1",
		InviterID: "alice",
		InviteeID: "carol",
	})
	if !apperrors.IsCode(err, apperrors.CodeMatchNotMutual) {
		t.Fatalf("error = %v, want match-not-mutual", err)
	}
}

func TestAcceptInvitationInviteeOnly(t *testing.T) {
	h := newHarness(t)
	created, err := h.svc.CreateInvitation(context.Background(), CreateInvitationInput{
		Variant:   domain.VariantTruths,
		MatchID:   "match-1",
		InviterID: "alice",
		InviteeID: "bob",
	})
	if err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}

	if _, err := h.svc.AcceptInvitation(context.Background(), created.SessionID, "alice"); !apperrors.IsCode(err, apperrors.CodeInviteeOnly) {
		t.Fatalf("inviter accept error = %v, want invitee-only", err)
	}

	view, err := h.svc.AcceptInvitation(context.Background(), created.SessionID, "bob")
	if err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}
	if view.Status != "active" {
		t.Fatalf("status = %q, want active", view.Status)
	}
	if want := testNow.Add(domain.DefaultSessionTTL); !view.ExpiresAt.Equal(want) {
		t.Fatalf("expires at = %v, want %v", view.ExpiresAt, want)
	}
}

func TestDeclineInvitation(t *testing.T) {
	h := newHarness(t)
	created, err := h.svc.CreateInvitation(context.Background(), CreateInvitationInput{
		Variant:   domain.VariantScenarios,
		MatchID:   "match-1",
		InviterID: "alice",
		InviteeID: "bob",
	})
	if err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}
	view, err := h.svc.DeclineInvitation(context.Background(), created.SessionID, "bob")
	if err != nil {
		t.Fatalf("DeclineInvitation() error = %v", err)
	}
	if view.Status != "declined" {
		t.Fatalf("status = %q, want declined", view.Status)
	}
}

func TestGetSessionStateForbidsOutsiders(t *testing.T) {
	h := newHarness(t)
	sessionID := activeSession(t, h, domain.VariantTruths)

	if _, err := h.svc.GetSessionState(context.Background(), sessionID, "mallory"); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("error = %v, want forbidden", err)
	}
	if _, err := h.svc.GetSessionState(context.Background(), "missing", "alice"); !apperrors.IsCode(err, apperrors.CodeSessionNotFound) {
		t.Fatalf("error = %v, want not-found", err)
	}
}

func TestMutateRetriesOnConflict(t *testing.T) {
	h := newHarness(t)
	sessionID := activeSession(t, h, domain.VariantTruths)

	h.store.conflictsBeforeUpdate = 2
	view, err := h.svc.SubmitStatements(context.Background(), sessionID, "alice", roundsWithLies([domain.RoundCount]int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0}))
	if err != nil {
		t.Fatalf("SubmitStatements() after conflicts error = %v", err)
	}
	if len(view.You.StatementRounds) != domain.RoundCount {
		t.Fatalf("statement rounds = %d, want %d", len(view.You.StatementRounds), domain.RoundCount)
	}
}

func TestMutateGivesUpAfterRepeatedConflicts(t *testing.T) {
	h := newHarness(t)
	sessionID := activeSession(t, h, domain.VariantTruths)

	h.store.conflictsBeforeUpdate = maxUpdateRetries
	_, err := h.svc.SubmitStatements(context.Background(), sessionID, "alice", roundsWithLies([domain.RoundCount]int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0}))
	if !apperrors.IsCode(err, apperrors.CodeConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestListSessionsForUser(t *testing.T) {
	h := newHarness(t)
	active := activeSession(t, h, domain.VariantTruths)

	pending, err := h.svc.CreateInvitation(context.Background(), CreateInvitationInput{
		Variant:   domain.VariantScenarios,
		MatchID:   "match-1",
		InviterID: "alice",
		InviteeID: "bob",
	})
	if err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}

	views, err := h.svc.ListSessionsForUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("ListSessionsForUser() error = %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("sessions listed = %d, want 2", len(views))
	}
	seen := map[string]string{}
	for _, view := range views {
		seen[view.SessionID] = view.Status
		if view.You.UserID != "bob" {
			t.Fatalf("view is not caller-scoped: you = %q", view.You.UserID)
		}
	}
	if seen[active] != "active" || seen[pending.SessionID] != "pending" {
		t.Fatalf("statuses = %v", seen)
	}
}

func TestCancelSession(t *testing.T) {
	h := newHarness(t)
	sessionID := activeSession(t, h, domain.VariantTruths)

	view, err := h.svc.Cancel(context.Background(), sessionID, "alice", "changed my mind")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if view.Status != "abandoned" {
		t.Fatalf("status = %q, want abandoned", view.Status)
	}

	if _, err := h.svc.Cancel(context.Background(), sessionID, "bob", "again"); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("second cancel error = %v, want invalid transition", err)
	}
}
