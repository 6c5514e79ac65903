package service

import (
	"time"

	"github.com/duetapp/duet/internal/engine/domain"
)

// StatementRoundView is one round of statements as shown to a caller. The
// lie index is -1 until the session has finished; a player never sees which
// of the partner's statements is the lie while guesses are still open.
type StatementRoundView struct {
	Statements []string `json:"statements"`
	LieIndex   int      `json:"lie_index"`
}

// VoiceAnswerView is one stored voice answer as shown to its owner, or to
// the partner once results exist.
type VoiceAnswerView struct {
	QuestionNumber      int    `json:"question_number"`
	MediaURL            string `json:"media_url"`
	DurationSeconds     int    `json:"duration_seconds"`
	Transcription       string `json:"transcription,omitempty"`
	TranscriptionStatus string `json:"transcription_status"`
}

// ParticipantView is one side of a session scoped to the caller.
type ParticipantView struct {
	UserID           string               `json:"user_id"`
	DisplayName      string               `json:"display_name,omitempty"`
	Complete         bool                 `json:"complete"`
	StatementRounds  []StatementRoundView `json:"statement_rounds,omitempty"`
	AnswerCount      int                  `json:"answer_count"`
	VoiceAnswerCount int                  `json:"voice_answer_count"`
	VoiceAnswers     []VoiceAnswerView    `json:"voice_answers,omitempty"`
}

// DiscussionNoteView is one post-game voice note with per-caller listen
// state.
type DiscussionNoteView struct {
	Index             int       `json:"index"`
	AuthorID          string    `json:"author_id"`
	MediaURL          string    `json:"media_url"`
	DurationSeconds   int       `json:"duration_seconds"`
	Transcription     string    `json:"transcription,omitempty"`
	RoundNumber       *int      `json:"round_number,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ListenedByYou     bool      `json:"listened_by_you"`
	ListenedByPartner bool      `json:"listened_by_partner"`
}

// SessionView is a session scoped to one caller: "you" versus "partner",
// with the partner's unplayed material redacted.
type SessionView struct {
	SessionID             string               `json:"session_id"`
	Variant               string               `json:"variant"`
	Status                string               `json:"status"`
	MatchID               string               `json:"match_id"`
	CreatedAt             time.Time            `json:"created_at"`
	ExpiresAt             time.Time            `json:"expires_at"`
	CompletedAt           *time.Time           `json:"completed_at,omitempty"`
	You                   ParticipantView      `json:"you"`
	Partner               ParticipantView      `json:"partner"`
	Discussion            []DiscussionNoteView `json:"discussion,omitempty"`
	ResultsAvailable      bool                 `json:"results_available"`
	RestartRequested      bool                 `json:"restart_requested"`
	RestartRequestedByYou bool                 `json:"restart_requested_by_you"`
	PreviousSessionID     string               `json:"previous_session_id,omitempty"`
	RestartCount          int                  `json:"restart_count"`
}

// ResultsView is the completed outcome of a session, shared by both
// participants.
type ResultsView struct {
	SessionID string                  `json:"session_id"`
	Variant   string                  `json:"variant"`
	Truths    *domain.TruthsResults   `json:"truths,omitempty"`
	Scenario  *domain.ScenarioResults `json:"scenario,omitempty"`
	Insights  *domain.InsightsRecord  `json:"insights,omitempty"`
	ViewedBy  []string                `json:"viewed_by,omitempty"`
}

// sessionViewFor projects a session onto the caller's perspective.
func sessionViewFor(session *domain.Session, callerID string) SessionView {
	finished := session.Status == domain.StatusCompleted || session.Status == domain.StatusDiscussion
	you := session.ParticipantA
	partner := session.ParticipantB
	if session.RoleOf(callerID) == domain.RoleB {
		you, partner = partner, you
	}

	view := SessionView{
		SessionID:             session.ID,
		Variant:               domain.VariantLabel(session.Variant),
		Status:                domain.StatusLabel(session.Status),
		MatchID:               session.MatchID,
		CreatedAt:             session.CreatedAt,
		ExpiresAt:             session.ExpiresAt,
		CompletedAt:           session.CompletedAt,
		You:                   participantViewFor(&you, true, finished),
		Partner:               participantViewFor(&partner, false, finished),
		ResultsAvailable:      finished && session.Results != nil,
		RestartRequested:      session.RestartRequestedBy != "",
		RestartRequestedByYou: session.RestartRequestedBy == callerID,
		PreviousSessionID:     session.PreviousSessionID,
		RestartCount:          session.RestartCount,
	}
	for index, note := range session.Discussion {
		view.Discussion = append(view.Discussion, DiscussionNoteView{
			Index:             index,
			AuthorID:          note.AuthorID,
			MediaURL:          note.MediaURL,
			DurationSeconds:   note.DurationSeconds,
			Transcription:     note.Transcription,
			RoundNumber:       note.RoundNumber,
			CreatedAt:         note.CreatedAt,
			ListenedByYou:     containsListener(note.ListenedBy, callerID),
			ListenedByPartner: containsListener(note.ListenedBy, partner.UserID),
		})
	}
	return view
}

// participantViewFor redacts a participant for the caller. The owner sees
// everything they submitted; the partner's lies stay hidden and the
// partner's voice answers reduce to a progress count until the session
// finishes.
func participantViewFor(p *domain.Participant, owned, finished bool) ParticipantView {
	view := ParticipantView{
		UserID:           p.UserID,
		DisplayName:      p.DisplayName,
		Complete:         p.Complete,
		AnswerCount:      len(p.Answers),
		VoiceAnswerCount: len(p.VoiceAnswers),
	}
	for _, round := range p.Statements {
		roundView := StatementRoundView{LieIndex: -1}
		for _, statement := range round.Statements {
			roundView.Statements = append(roundView.Statements, statement.Text)
		}
		if owned || finished {
			roundView.LieIndex = round.LieIndex()
		}
		view.StatementRounds = append(view.StatementRounds, roundView)
	}
	if owned || finished {
		for question := 1; question <= domain.ScenarioQuestionCount; question++ {
			answer, ok := p.VoiceAnswers[question]
			if !ok {
				continue
			}
			view.VoiceAnswers = append(view.VoiceAnswers, VoiceAnswerView{
				QuestionNumber:      question,
				MediaURL:            answer.MediaURL,
				DurationSeconds:     answer.DurationSeconds,
				Transcription:       answer.Transcription,
				TranscriptionStatus: string(answer.TranscriptionStatus),
			})
		}
	}
	return view
}

func resultsViewFor(session *domain.Session) ResultsView {
	view := ResultsView{
		SessionID: session.ID,
		Variant:   domain.VariantLabel(session.Variant),
		Insights:  session.Insights,
		ViewedBy:  session.ViewedResultsBy,
	}
	if session.Results != nil {
		view.Truths = session.Results.Truths
		view.Scenario = session.Results.Scenario
	}
	return view
}

func containsListener(listeners []string, userID string) bool {
	for _, listener := range listeners {
		if listener == userID {
			return true
		}
	}
	return false
}
