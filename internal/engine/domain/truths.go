package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/duetapp/duet/internal/errors"
	"github.com/duetapp/duet/internal/platform/id"
)

const (
	// RoundCount is the number of statement rounds each participant authors.
	RoundCount = 10
	// StatementsPerRound is the number of statements in one round.
	StatementsPerRound = 3
	// MaxStatementLength bounds a single statement's text.
	MaxStatementLength = 200
)

// Statement is one claim inside a round, flagged when it is the lie.
type Statement struct {
	Text  string `json:"text"`
	IsLie bool   `json:"is_lie"`
}

// StatementRound is three statements with exactly one lie.
type StatementRound struct {
	Statements [StatementsPerRound]Statement `json:"statements"`
}

// LieIndex returns the position of the lie within the round.
func (r StatementRound) LieIndex() int {
	for i, statement := range r.Statements {
		if statement.IsLie {
			return i
		}
	}
	return -1
}

// Answer records a guess at which statement in the partner's round is the lie.
type Answer struct {
	SelectedIndex int `json:"selected_index"`
}

// Winner identifies the outcome of a Variant T session.
type Winner string

const (
	// WinnerA means the inviter guessed more lies.
	WinnerA Winner = "participant_a"
	// WinnerB means the invitee guessed more lies.
	WinnerB Winner = "participant_b"
	// WinnerTie means both guessed the same number of lies.
	WinnerTie Winner = "tie"
)

// TruthsResults is the synchronous scoring outcome of Variant T.
type TruthsResults struct {
	ScoreA int    `json:"score_a"`
	ScoreB int    `json:"score_b"`
	Winner Winner `json:"winner"`
}

// ValidateStatementRounds checks the invariants of a full statement
// submission: 10 rounds of 3 non-empty statements with exactly one lie each.
func ValidateStatementRounds(rounds []StatementRound) error {
	if len(rounds) != RoundCount {
		return apperrors.New(apperrors.CodeStatementRoundCount,
			fmt.Sprintf("expected %d statement rounds, got %d", RoundCount, len(rounds)))
	}
	for i, round := range rounds {
		lies := 0
		for j, statement := range round.Statements {
			text := strings.TrimSpace(statement.Text)
			if text == "" {
				return apperrors.New(apperrors.CodeStatementTextInvalid,
					fmt.Sprintf("round %d statement %d is empty", i+1, j+1))
			}
			if len(statement.Text) > MaxStatementLength {
				return apperrors.New(apperrors.CodeStatementTextInvalid,
					fmt.Sprintf("round %d statement %d exceeds %d characters", i+1, j+1, MaxStatementLength))
			}
			if statement.IsLie {
				lies++
			}
		}
		if lies != 1 {
			return apperrors.New(apperrors.CodeStatementLieCount,
				fmt.Sprintf("round %d has %d lies, expected exactly 1", i+1, lies))
		}
	}
	return nil
}

// ValidateAnswers checks a full answer submission: one guess per round with
// an index inside the round.
func ValidateAnswers(answers []Answer) error {
	if len(answers) != RoundCount {
		return apperrors.New(apperrors.CodeAnswerCount,
			fmt.Sprintf("expected %d answers, got %d", RoundCount, len(answers)))
	}
	for i, answer := range answers {
		if answer.SelectedIndex < 0 || answer.SelectedIndex >= StatementsPerRound {
			return apperrors.New(apperrors.CodeAnswerIndexOutOfRange,
				fmt.Sprintf("answer %d selects index %d, want 0..%d", i+1, answer.SelectedIndex, StatementsPerRound-1))
		}
	}
	return nil
}

// SubmitStatements applies a participant's statement authoring. Write-once:
// a second submission is rejected.
func (s *Session) SubmitStatements(callerID string, rounds []StatementRound, now time.Time) error {
	if s.Variant != VariantTruths {
		return apperrors.New(apperrors.CodeVariantMismatch, "statements belong to the two truths variant")
	}
	participant, err := s.participantFor(callerID)
	if err != nil {
		return err
	}
	if s.Status != StatusActive && s.Status != StatusWaiting {
		return s.invalidTransition("submit statements")
	}
	if len(participant.Statements) != 0 {
		return s.alreadySubmitted("statements")
	}
	if err := ValidateStatementRounds(rounds); err != nil {
		return err
	}
	participant.Statements = append([]StatementRound(nil), rounds...)
	s.refreshAfterSubmission(now)
	return nil
}

// SubmitAnswers applies a participant's guesses against the partner's
// rounds. The caller must have submitted statements first and the partner's
// statements must exist to be guessed at.
func (s *Session) SubmitAnswers(callerID string, answers []Answer, now time.Time) error {
	if s.Variant != VariantTruths {
		return apperrors.New(apperrors.CodeVariantMismatch, "answers belong to the two truths variant")
	}
	participant, err := s.participantFor(callerID)
	if err != nil {
		return err
	}
	if s.Status != StatusActive && s.Status != StatusWaiting {
		return s.invalidTransition("submit answers")
	}
	if len(participant.Statements) == 0 {
		return s.invalidTransition("submit answers before statements")
	}
	if len(s.partnerOf(callerID).Statements) == 0 {
		return s.invalidTransition("submit answers before partner statements")
	}
	if len(participant.Answers) != 0 {
		return s.alreadySubmitted("answers")
	}
	if err := ValidateAnswers(answers); err != nil {
		return err
	}
	participant.Answers = append([]Answer(nil), answers...)
	s.refreshAfterSubmission(now)
	return nil
}

// scoreTruths computes both scores once both participants completed.
// A participant scores a point for each round where their guess lands on
// the lie in the partner's statements.
func scoreTruths(s *Session) *TruthsResults {
	results := &TruthsResults{
		ScoreA: countCorrectGuesses(s.ParticipantA.Answers, s.ParticipantB.Statements),
		ScoreB: countCorrectGuesses(s.ParticipantB.Answers, s.ParticipantA.Statements),
	}
	switch {
	case results.ScoreA > results.ScoreB:
		results.Winner = WinnerA
	case results.ScoreB > results.ScoreA:
		results.Winner = WinnerB
	default:
		results.Winner = WinnerTie
	}
	return results
}

func countCorrectGuesses(answers []Answer, rounds []StatementRound) int {
	score := 0
	for i, answer := range answers {
		if i >= len(rounds) {
			break
		}
		if answer.SelectedIndex == rounds[i].LieIndex() {
			score++
		}
	}
	return score
}

// RequestRestart records a rematch request on a finished Variant T session.
func (s *Session) RequestRestart(callerID string) error {
	if s.Variant != VariantTruths {
		return apperrors.New(apperrors.CodeVariantMismatch, "restart applies to the two truths variant")
	}
	if _, err := s.participantFor(callerID); err != nil {
		return err
	}
	if s.Status != StatusCompleted && s.Status != StatusDiscussion {
		return s.invalidTransition("request restart")
	}
	if s.RestartRequestedBy != "" {
		return apperrors.New(apperrors.CodeRestartPending, "a restart request is already pending")
	}
	s.RestartRequestedBy = callerID
	return nil
}

// AcceptRestart clears the pending request and returns the replacement
// session: same participants and match, active immediately, lineage recorded.
func (s *Session) AcceptRestart(callerID string, now func() time.Time, idGenerator func() (string, error), sessionTTL time.Duration) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	if _, err := s.participantFor(callerID); err != nil {
		return Session{}, err
	}
	if s.Status != StatusCompleted && s.Status != StatusDiscussion {
		return Session{}, s.invalidTransition("accept restart")
	}
	if s.RestartRequestedBy == "" {
		return Session{}, apperrors.New(apperrors.CodeRestartNotRequested, "no restart request is pending")
	}
	if s.RestartRequestedBy == callerID {
		return Session{}, apperrors.New(apperrors.CodeNotYourRequest, "the requester cannot accept their own restart request")
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	s.RestartRequestedBy = ""

	createdAt := now().UTC()
	acceptedAt := createdAt
	next := Session{
		ID:      sessionID,
		Variant: s.Variant,
		MatchID: s.MatchID,
		ParticipantA: Participant{
			UserID:      s.ParticipantA.UserID,
			DisplayName: s.ParticipantA.DisplayName,
		},
		ParticipantB: Participant{
			UserID:      s.ParticipantB.UserID,
			DisplayName: s.ParticipantB.DisplayName,
		},
		Status:            StatusActive,
		CreatedAt:         createdAt,
		AcceptedAt:        &acceptedAt,
		PreviousSessionID: s.ID,
		RestartCount:      s.RestartCount + 1,
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	next.ExpiresAt = createdAt.Add(sessionTTL)
	return next, nil
}

// ClearRestartRequest drops a pending restart request once its replacement
// session exists. Clearing an already-clear session is a no-op, so the
// operation is safe to repeat.
func (s *Session) ClearRestartRequest(callerID string) error {
	if _, err := s.participantFor(callerID); err != nil {
		return err
	}
	s.RestartRequestedBy = ""
	return nil
}

// DeclineRestart clears a pending restart request without other effect.
func (s *Session) DeclineRestart(callerID string) error {
	if _, err := s.participantFor(callerID); err != nil {
		return err
	}
	if s.RestartRequestedBy == "" {
		return apperrors.New(apperrors.CodeRestartNotRequested, "no restart request is pending")
	}
	if s.RestartRequestedBy == callerID {
		return apperrors.New(apperrors.CodeNotYourRequest, "the requester cannot decline their own restart request")
	}
	s.RestartRequestedBy = ""
	return nil
}

func (s *Session) alreadySubmitted(slot string) error {
	return apperrors.WithMetadata(
		apperrors.CodeAlreadySubmitted,
		fmt.Sprintf("%s were already submitted", slot),
		map[string]string{"session_id": s.ID},
	)
}
