package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "github.com/duetapp/duet/internal/errors"
)

// ScenarioQuestionCount is the number of fixed scenario questions.
const ScenarioQuestionCount = 15

// TranscriptionStatus tracks the transcription outcome of one voice answer.
type TranscriptionStatus string

const (
	// TranscriptionPending means transcription has not finished yet.
	TranscriptionPending TranscriptionStatus = "pending"
	// TranscriptionCompleted means a transcription is stored on the slot.
	TranscriptionCompleted TranscriptionStatus = "completed"
	// TranscriptionFailed means transcription failed; the slot is excluded
	// from analysis but never blocks phase advancement.
	TranscriptionFailed TranscriptionStatus = "failed"
	// TranscriptionSkipped means no transcription was attempted.
	TranscriptionSkipped TranscriptionStatus = "skipped"
)

// VoiceAnswer is one participant's recorded answer to a scenario question.
type VoiceAnswer struct {
	MediaURL            string              `json:"media_url"`
	MediaKey            string              `json:"media_key"`
	DurationSeconds     int                 `json:"duration_seconds"`
	Transcription       string              `json:"transcription,omitempty"`
	TranscriptionStatus TranscriptionStatus `json:"transcription_status"`
}

// ScenarioQuestion is one of the fixed prompts both participants answer.
type ScenarioQuestion struct {
	Number   int    `json:"number"`
	Category string `json:"category"`
	Text     string `json:"text"`
}

// scenarioCatalog is the fixed question set for Variant W. The category is
// metadata the engine carries into analysis aggregation; the analyzer never
// reads it.
var scenarioCatalog = []ScenarioQuestion{
	{1, "values", "You win a large sum of money the same week your partner loses their job. What would you do?"},
	{2, "communication", "Your partner seems withdrawn after a hard day but says everything is fine. What would you do?"},
	{3, "lifestyle", "You get a dream job offer in a city your partner dislikes. What would you do?"},
	{4, "conflict", "You and your partner disagree strongly about how to spend a shared holiday. What would you do?"},
	{5, "family", "A close family member openly disapproves of your relationship. What would you do?"},
	{6, "values", "You discover a good friend is cheating on their partner. What would you do?"},
	{7, "lifestyle", "Your partner wants to adopt a pet you are not sure you can care for. What would you do?"},
	{8, "communication", "Your partner keeps rescheduling an important conversation you asked for. What would you do?"},
	{9, "conflict", "An argument ends with both of you saying things you regret. What would you do the next morning?"},
	{10, "family", "Your partner wants to spend every major holiday with their family. What would you do?"},
	{11, "values", "You find a wallet with a large amount of cash and no witnesses around. What would you do?"},
	{12, "lifestyle", "Your partner's spending habits start to worry you. What would you do?"},
	{13, "intimacy", "You feel the romance has faded after a busy stretch of months. What would you do?"},
	{14, "intimacy", "Your partner asks for more alone time than you expected. What would you do?"},
	{15, "conflict", "A recurring disagreement keeps resurfacing every few weeks. What would you do?"},
}

// QuestionByNumber returns the catalog entry for a question number.
func QuestionByNumber(number int) (ScenarioQuestion, error) {
	if number < 1 || number > ScenarioQuestionCount {
		return ScenarioQuestion{}, apperrors.New(apperrors.CodeQuestionOutOfRange,
			fmt.Sprintf("question number %d is outside 1..%d", number, ScenarioQuestionCount))
	}
	return scenarioCatalog[number-1], nil
}

// ScenarioQuestions returns the full fixed catalog in order.
func ScenarioQuestions() []ScenarioQuestion {
	return append([]ScenarioQuestion(nil), scenarioCatalog...)
}

// AlignmentLevel is the coarse bucket for a per-question alignment score.
type AlignmentLevel string

const (
	// AlignmentStrong indicates the answers closely agree.
	AlignmentStrong AlignmentLevel = "strong_alignment"
	// AlignmentModerate indicates partial agreement.
	AlignmentModerate AlignmentLevel = "moderate_alignment"
	// AlignmentLow indicates notable differences.
	AlignmentLow AlignmentLevel = "low_alignment"
)

// AlignmentLevelFor buckets an alignment score.
func AlignmentLevelFor(score int) AlignmentLevel {
	switch {
	case score >= 80:
		return AlignmentStrong
	case score >= 50:
		return AlignmentModerate
	default:
		return AlignmentLow
	}
}

// PairAnalysis is the analyzer's structured record for one question.
type PairAnalysis struct {
	QuestionNumber    int            `json:"question_number"`
	Category          string         `json:"category"`
	AlignmentScore    int            `json:"alignment_score"`
	AlignmentLevel    AlignmentLevel `json:"alignment_level"`
	SummaryA          string         `json:"summary_a"`
	SummaryB          string         `json:"summary_b"`
	ComparisonInsight string         `json:"comparison_insight"`
	DiscussionPrompt  string         `json:"discussion_prompt"`
}

// CompatibilityLevel is the coarse bucket for overall compatibility.
type CompatibilityLevel string

const (
	// CompatibilityHigh is overall compatibility of 80 or above.
	CompatibilityHigh CompatibilityLevel = "highly_compatible"
	// CompatibilityGood is overall compatibility of 65 to 79.
	CompatibilityGood CompatibilityLevel = "compatible"
	// CompatibilityDiscuss is overall compatibility of 50 to 64.
	CompatibilityDiscuss CompatibilityLevel = "needs_discussion"
	// CompatibilityDifferent is overall compatibility below 50.
	CompatibilityDifferent CompatibilityLevel = "significant_differences"
)

// CompatibilityLevelFor buckets an overall compatibility score.
func CompatibilityLevelFor(score int) CompatibilityLevel {
	switch {
	case score >= 80:
		return CompatibilityHigh
	case score >= 65:
		return CompatibilityGood
	case score >= 50:
		return CompatibilityDiscuss
	default:
		return CompatibilityDifferent
	}
}

// ScenarioResults is the aggregated outcome of Variant W.
type ScenarioResults struct {
	QuestionAnalyses     []PairAnalysis     `json:"question_analyses"`
	CategoryAverages     map[string]int     `json:"category_averages,omitempty"`
	OverallCompatibility int                `json:"overall_compatibility"`
	CompatibilityLevel   CompatibilityLevel `json:"compatibility_level"`
	StrongestAreas       []PairAnalysis     `json:"strongest_areas,omitempty"`
	AreasToDiscuss       []PairAnalysis     `json:"areas_to_discuss,omitempty"`
	ConversationStarters []string           `json:"conversation_starters,omitempty"`
}

// InsightsRecord is the narrative summary generated from aggregated results.
type InsightsRecord struct {
	OverallSummary        string `json:"overall_summary"`
	CompatibilityAnalysis string `json:"compatibility_analysis"`
	CommunicationStyles   string `json:"communication_styles"`
	ValuesAlignment       string `json:"values_alignment"`
	PotentialChallenges   string `json:"potential_challenges"`
	StrengthsAsCouple     string `json:"strengths_as_couple"`
	AdviceForward         string `json:"advice_forward"`
}

// CanSubmitVoiceAnswer checks the caller, status, and slot without applying
// anything, so the audio never reaches storage for a rejected submission.
func (s *Session) CanSubmitVoiceAnswer(callerID string, questionNumber int) error {
	if s.Variant != VariantScenarios {
		return apperrors.New(apperrors.CodeVariantMismatch, "voice answers belong to the what would you do variant")
	}
	participant, err := s.participantFor(callerID)
	if err != nil {
		return err
	}
	if s.Status != StatusActive && s.Status != StatusWaiting {
		return s.invalidTransition("submit voice answer")
	}
	if _, err := QuestionByNumber(questionNumber); err != nil {
		return err
	}
	if _, exists := participant.VoiceAnswers[questionNumber]; exists {
		return s.alreadySubmitted(fmt.Sprintf("question %d voice answer", questionNumber))
	}
	return nil
}

// SubmitVoiceAnswer applies a participant's recorded answer to a question.
// Write-once per question.
func (s *Session) SubmitVoiceAnswer(callerID string, questionNumber int, answer VoiceAnswer, now time.Time) error {
	if err := s.CanSubmitVoiceAnswer(callerID, questionNumber); err != nil {
		return err
	}
	participant, err := s.participantFor(callerID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(answer.MediaKey) == "" || strings.TrimSpace(answer.MediaURL) == "" {
		return apperrors.New(apperrors.CodeEmptyAudio, "voice answer requires stored media")
	}
	if answer.TranscriptionStatus == "" {
		answer.TranscriptionStatus = TranscriptionPending
	}
	if participant.VoiceAnswers == nil {
		participant.VoiceAnswers = make(map[int]VoiceAnswer, ScenarioQuestionCount)
	}
	participant.VoiceAnswers[questionNumber] = answer
	s.refreshAfterSubmission(now)
	return nil
}

// SetVoiceTranscription records the transcription outcome on an owned slot.
// Used both on first ingest and when a participant retries a failed
// transcription.
func (s *Session) SetVoiceTranscription(callerID string, questionNumber int, transcription string, status TranscriptionStatus) error {
	if s.IsTerminal() {
		return s.invalidTransition("retry transcription")
	}
	participant, err := s.participantFor(callerID)
	if err != nil {
		return err
	}
	answer, exists := participant.VoiceAnswers[questionNumber]
	if !exists {
		return apperrors.New(apperrors.CodeTranscriptionSlotEmpty,
			fmt.Sprintf("no voice answer stored for question %d", questionNumber))
	}
	answer.Transcription = transcription
	answer.TranscriptionStatus = status
	participant.VoiceAnswers[questionNumber] = answer
	return nil
}

// TranscribedPairs returns, in question order, the questions where both
// sides hold a non-empty transcription. Questions missing either side are
// skipped, never errored.
func (s *Session) TranscribedPairs() []ScenarioQuestion {
	var pairs []ScenarioQuestion
	for _, question := range scenarioCatalog {
		a, okA := s.ParticipantA.VoiceAnswers[question.Number]
		b, okB := s.ParticipantB.VoiceAnswers[question.Number]
		if okA && okB && strings.TrimSpace(a.Transcription) != "" && strings.TrimSpace(b.Transcription) != "" {
			pairs = append(pairs, question)
		}
	}
	return pairs
}

// BuildScenarioResults aggregates per-question analyses into the session
// rollup. With no analyses the rollup is neutral: overall 50.
func BuildScenarioResults(analyses []PairAnalysis) *ScenarioResults {
	results := &ScenarioResults{
		QuestionAnalyses:     analyses,
		OverallCompatibility: 50,
	}

	if len(analyses) > 0 {
		categoryScores := make(map[string][]int)
		total := 0
		for _, analysis := range analyses {
			total += analysis.AlignmentScore
			categoryScores[analysis.Category] = append(categoryScores[analysis.Category], analysis.AlignmentScore)
		}
		results.OverallCompatibility = roundMean(total, len(analyses))

		results.CategoryAverages = make(map[string]int, len(categoryScores))
		for category, scores := range categoryScores {
			sum := 0
			for _, score := range scores {
				sum += score
			}
			results.CategoryAverages[category] = roundMean(sum, len(scores))
		}
	}

	results.CompatibilityLevel = CompatibilityLevelFor(results.OverallCompatibility)

	for _, analysis := range analyses {
		if analysis.AlignmentScore >= 80 && len(results.StrongestAreas) < 3 {
			results.StrongestAreas = append(results.StrongestAreas, analysis)
		}
		if analysis.AlignmentScore < 60 && len(results.AreasToDiscuss) < 5 {
			results.AreasToDiscuss = append(results.AreasToDiscuss, analysis)
		}
		if analysis.AlignmentScore < 70 && analysis.DiscussionPrompt != "" && len(results.ConversationStarters) < 5 {
			results.ConversationStarters = append(results.ConversationStarters, analysis.DiscussionPrompt)
		}
	}

	return results
}

func roundMean(sum, count int) int {
	return int(math.Round(float64(sum) / float64(count)))
}
