package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/duetapp/duet/internal/errors"
	"github.com/duetapp/duet/internal/platform/id"
)

// Variant identifies which game a session plays. It is fixed at creation.
type Variant int

const (
	// VariantUnspecified represents an invalid variant value.
	VariantUnspecified Variant = iota
	// VariantTruths is Two Truths & a Lie.
	VariantTruths
	// VariantScenarios is What Would You Do.
	VariantScenarios
)

// Status describes the lifecycle state of a session.
type Status int

const (
	// StatusUnspecified represents an invalid session status value.
	StatusUnspecified Status = iota
	// StatusPending indicates an invitation awaiting the invitee's response.
	StatusPending
	// StatusActive indicates both participants may submit content.
	StatusActive
	// StatusWaiting indicates one participant finished and the other has not.
	StatusWaiting
	// StatusAnalyzing indicates the pairwise analysis is running (Variant W).
	StatusAnalyzing
	// StatusCompleted indicates results are available.
	StatusCompleted
	// StatusDiscussion indicates post-game voice notes have been exchanged.
	StatusDiscussion
	// StatusExpired indicates the session passed its deadline. Terminal.
	StatusExpired
	// StatusDeclined indicates the invitee declined the invitation. Terminal.
	StatusDeclined
	// StatusAbandoned indicates a participant cancelled the session. Terminal.
	StatusAbandoned
)

// Role identifies which side of a session a participant occupies.
type Role int

const (
	// RoleNone indicates the user is not a participant.
	RoleNone Role = iota
	// RoleA is the inviter.
	RoleA
	// RoleB is the invitee.
	RoleB
)

var (
	// ErrEmptyUserID indicates a missing user ID.
	ErrEmptyUserID = apperrors.New(apperrors.CodeEmptyUserID, "user id is required")
	// ErrEmptyMatchID indicates a missing match ID.
	ErrEmptyMatchID = apperrors.New(apperrors.CodeEmptyMatchID, "match id is required")
	// ErrInvalidVariant indicates an unsupported game variant.
	ErrInvalidVariant = apperrors.New(apperrors.CodeInvalidVariant, "game variant is invalid")
	// ErrNotParticipant indicates the caller is not bound to the session.
	ErrNotParticipant = apperrors.New(apperrors.CodeForbidden, "caller is not a session participant")
	// ErrInviteeOnly indicates only the invitee may respond to an invitation.
	ErrInviteeOnly = apperrors.New(apperrors.CodeInviteeOnly, "only the invited participant may respond to an invitation")
)

// Participant holds one side of a session: identity, per-slot submissions,
// and the completion flag the state machine reads.
type Participant struct {
	UserID       string              `json:"user_id"`
	DisplayName  string              `json:"display_name,omitempty"`
	Statements   []StatementRound    `json:"statements,omitempty"`
	Answers      []Answer            `json:"answers,omitempty"`
	VoiceAnswers map[int]VoiceAnswer `json:"voice_answers,omitempty"`
	Complete     bool                `json:"complete"`
}

// Session is the aggregate root covering one play-through between two
// participants. All mutation goes through methods that preserve the
// transition diagram and write-once submission slots.
type Session struct {
	ID                 string           `json:"id"`
	Variant            Variant          `json:"variant"`
	MatchID            string           `json:"match_id"`
	ParticipantA       Participant      `json:"participant_a"`
	ParticipantB       Participant      `json:"participant_b"`
	Status             Status           `json:"status"`
	Revision           int64            `json:"revision"`
	CreatedAt          time.Time        `json:"created_at"`
	AcceptedAt         *time.Time       `json:"accepted_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	ExpiresAt          time.Time        `json:"expires_at"`
	Results            *Results         `json:"results,omitempty"`
	Insights           *InsightsRecord  `json:"insights,omitempty"`
	Discussion         []DiscussionNote `json:"discussion,omitempty"`
	ViewedResultsBy    []string         `json:"viewed_results_by,omitempty"`
	RestartRequestedBy string           `json:"restart_requested_by,omitempty"`
	PreviousSessionID  string           `json:"previous_session_id,omitempty"`
	RestartCount       int              `json:"restart_count"`
	CancelReason       string           `json:"cancel_reason,omitempty"`
}

// Results is the variant-dependent outcome of a completed session. Exactly
// one branch is populated, matching the session variant.
type Results struct {
	Truths   *TruthsResults   `json:"truths,omitempty"`
	Scenario *ScenarioResults `json:"scenario,omitempty"`
}

// CreateSessionInput describes the metadata needed to create an invitation.
type CreateSessionInput struct {
	Variant     Variant
	MatchID     string
	InviterID   string
	InviteeID   string
	InviterName string
	InviteeName string
	InviteTTL   time.Duration
}

const (
	// DefaultInviteTTL bounds how long an invitation stays pending.
	DefaultInviteTTL = 72 * time.Hour
	// DefaultSessionTTL bounds how long an accepted session may stay open.
	DefaultSessionTTL = 168 * time.Hour
)

// CreateSession creates a pending invitation session with a generated ID.
func CreateSession(input CreateSessionInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateSessionInput(input)
	if err != nil {
		return Session{}, err
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	createdAt := now().UTC()
	return Session{
		ID:      sessionID,
		Variant: normalized.Variant,
		MatchID: normalized.MatchID,
		ParticipantA: Participant{
			UserID:      normalized.InviterID,
			DisplayName: normalized.InviterName,
		},
		ParticipantB: Participant{
			UserID:      normalized.InviteeID,
			DisplayName: normalized.InviteeName,
		},
		Status:    StatusPending,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(normalized.InviteTTL),
	}, nil
}

// NormalizeCreateSessionInput trims and validates invitation input metadata.
func NormalizeCreateSessionInput(input CreateSessionInput) (CreateSessionInput, error) {
	if input.Variant != VariantTruths && input.Variant != VariantScenarios {
		return CreateSessionInput{}, ErrInvalidVariant
	}
	input.MatchID = strings.TrimSpace(input.MatchID)
	if input.MatchID == "" {
		return CreateSessionInput{}, ErrEmptyMatchID
	}
	input.InviterID = strings.TrimSpace(input.InviterID)
	input.InviteeID = strings.TrimSpace(input.InviteeID)
	if input.InviterID == "" || input.InviteeID == "" {
		return CreateSessionInput{}, ErrEmptyUserID
	}
	if input.InviterID == input.InviteeID {
		return CreateSessionInput{}, apperrors.New(apperrors.CodeEmptyUserID, "a session requires two distinct participants")
	}
	input.InviterName = strings.TrimSpace(input.InviterName)
	input.InviteeName = strings.TrimSpace(input.InviteeName)
	if input.InviteTTL <= 0 {
		input.InviteTTL = DefaultInviteTTL
	}
	return input, nil
}

// RoleOf returns which side of the session the user occupies.
func (s *Session) RoleOf(userID string) Role {
	switch userID {
	case s.ParticipantA.UserID:
		return RoleA
	case s.ParticipantB.UserID:
		return RoleB
	default:
		return RoleNone
	}
}

// participantFor returns the participant owned by userID, or an error when
// the caller is not bound to the session.
func (s *Session) participantFor(userID string) (*Participant, error) {
	switch s.RoleOf(userID) {
	case RoleA:
		return &s.ParticipantA, nil
	case RoleB:
		return &s.ParticipantB, nil
	default:
		return nil, forbidden(s.ID)
	}
}

// partnerOf returns the other side's participant. Callers must have
// verified membership first.
func (s *Session) partnerOf(userID string) *Participant {
	if s.ParticipantA.UserID == userID {
		return &s.ParticipantB
	}
	return &s.ParticipantA
}

// IsTerminal reports whether the status permits no further transitions.
func (s *Session) IsTerminal() bool {
	switch s.Status {
	case StatusExpired, StatusDeclined, StatusAbandoned:
		return true
	default:
		return false
	}
}

// Accept transitions a pending invitation to active. Only the invitee may
// accept. sessionTTL bounds how long the accepted session may stay open.
func (s *Session) Accept(callerID string, now time.Time, sessionTTL time.Duration) error {
	if err := s.requireInvitee(callerID); err != nil {
		return err
	}
	if s.Status != StatusPending {
		return s.invalidTransition("accept")
	}
	acceptedAt := now.UTC()
	s.Status = StatusActive
	s.AcceptedAt = &acceptedAt
	if sessionTTL > 0 {
		s.ExpiresAt = acceptedAt.Add(sessionTTL)
	}
	return nil
}

// Decline transitions a pending invitation to declined. Only the invitee
// may decline.
func (s *Session) Decline(callerID string) error {
	if err := s.requireInvitee(callerID); err != nil {
		return err
	}
	if s.Status != StatusPending {
		return s.invalidTransition("decline")
	}
	s.Status = StatusDeclined
	return nil
}

// Cancel transitions any non-terminal session to abandoned.
func (s *Session) Cancel(callerID, reason string) error {
	if _, err := s.participantFor(callerID); err != nil {
		return err
	}
	if s.IsTerminal() {
		return s.invalidTransition("cancel")
	}
	s.Status = StatusAbandoned
	s.CancelReason = strings.TrimSpace(reason)
	return nil
}

// Expire transitions any non-terminal session past its deadline to expired.
// The reaper is the only caller.
func (s *Session) Expire(now time.Time) error {
	if s.IsTerminal() {
		return s.invalidTransition("expire")
	}
	if now.UTC().Before(s.ExpiresAt) {
		return s.invalidTransition("expire")
	}
	s.Status = StatusExpired
	return nil
}

// ViewResults records that the caller has seen the results.
func (s *Session) ViewResults(callerID string) error {
	if _, err := s.participantFor(callerID); err != nil {
		return err
	}
	if s.Status != StatusCompleted && s.Status != StatusDiscussion {
		return s.invalidTransition("view results")
	}
	for _, viewer := range s.ViewedResultsBy {
		if viewer == callerID {
			return nil
		}
	}
	s.ViewedResultsBy = append(s.ViewedResultsBy, callerID)
	return nil
}

// MediaKeys collects every media key stored against the session: voice
// answers on both sides plus discussion notes.
func (s *Session) MediaKeys() []string {
	var keys []string
	for _, p := range []*Participant{&s.ParticipantA, &s.ParticipantB} {
		for question := 1; question <= ScenarioQuestionCount; question++ {
			if answer, ok := p.VoiceAnswers[question]; ok && answer.MediaKey != "" {
				keys = append(keys, answer.MediaKey)
			}
		}
	}
	for _, note := range s.Discussion {
		if note.MediaKey != "" {
			keys = append(keys, note.MediaKey)
		}
	}
	return keys
}

// refreshAfterSubmission recomputes completion flags and advances the
// status after a submission was applied. Variant T scores synchronously
// when the second participant finishes; Variant W enters analyzing and
// leaves result computation to the analysis worker.
func (s *Session) refreshAfterSubmission(now time.Time) {
	s.ParticipantA.Complete = s.participantComplete(&s.ParticipantA)
	s.ParticipantB.Complete = s.participantComplete(&s.ParticipantB)

	bothDone := s.ParticipantA.Complete && s.ParticipantB.Complete
	oneDone := s.ParticipantA.Complete || s.ParticipantB.Complete

	switch {
	case bothDone && s.Variant == VariantTruths:
		s.Results = &Results{Truths: scoreTruths(s)}
		s.markCompleted(now)
	case bothDone && s.Variant == VariantScenarios:
		s.Status = StatusAnalyzing
	case oneDone:
		s.Status = StatusWaiting
	default:
		s.Status = StatusActive
	}
}

// participantComplete evaluates the variant's completion predicate.
func (s *Session) participantComplete(p *Participant) bool {
	switch s.Variant {
	case VariantTruths:
		return len(p.Statements) == RoundCount && len(p.Answers) == RoundCount
	case VariantScenarios:
		return len(p.VoiceAnswers) == ScenarioQuestionCount
	default:
		return false
	}
}

// CompleteAnalysis moves an analyzing session to completed with the given
// results. Partial results are acceptable; the analysis worker absorbs
// upstream failures.
func (s *Session) CompleteAnalysis(results *ScenarioResults, now time.Time) error {
	if s.Status != StatusAnalyzing {
		return s.invalidTransition("complete analysis")
	}
	s.Results = &Results{Scenario: results}
	s.markCompleted(now)
	return nil
}

func (s *Session) markCompleted(now time.Time) {
	completedAt := now.UTC()
	s.Status = StatusCompleted
	s.CompletedAt = &completedAt
}

func (s *Session) requireInvitee(callerID string) error {
	switch s.RoleOf(callerID) {
	case RoleB:
		return nil
	case RoleA:
		return ErrInviteeOnly
	default:
		return forbidden(s.ID)
	}
}

func (s *Session) invalidTransition(action string) error {
	return apperrors.WithMetadata(
		apperrors.CodeInvalidTransition,
		fmt.Sprintf("cannot %s while session is %s", action, StatusLabel(s.Status)),
		map[string]string{"session_id": s.ID, "status": StatusLabel(s.Status)},
	)
}

func forbidden(sessionID string) error {
	return apperrors.WithMetadata(
		apperrors.CodeForbidden,
		"caller is not a session participant",
		map[string]string{"session_id": sessionID},
	)
}

// StatusLabel returns the string label for a session status.
func StatusLabel(status Status) string {
	switch status {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusWaiting:
		return "waiting"
	case StatusAnalyzing:
		return "analyzing"
	case StatusCompleted:
		return "completed"
	case StatusDiscussion:
		return "discussion"
	case StatusExpired:
		return "expired"
	case StatusDeclined:
		return "declined"
	case StatusAbandoned:
		return "abandoned"
	default:
		return "unspecified"
	}
}

// StatusFromLabel converts a status label to a Status value.
func StatusFromLabel(label string) Status {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "pending":
		return StatusPending
	case "active":
		return StatusActive
	case "waiting":
		return StatusWaiting
	case "analyzing":
		return StatusAnalyzing
	case "completed":
		return StatusCompleted
	case "discussion":
		return StatusDiscussion
	case "expired":
		return StatusExpired
	case "declined":
		return StatusDeclined
	case "abandoned":
		return StatusAbandoned
	default:
		return StatusUnspecified
	}
}

// VariantLabel returns the string label for a game variant.
func VariantLabel(variant Variant) string {
	switch variant {
	case VariantTruths:
		return "two_truths"
	case VariantScenarios:
		return "what_would_you_do"
	default:
		return "unspecified"
	}
}

// VariantFromLabel converts a variant label to a Variant value.
func VariantFromLabel(label string) Variant {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "two_truths":
		return VariantTruths
	case "what_would_you_do":
		return VariantScenarios
	default:
		return VariantUnspecified
	}
}
