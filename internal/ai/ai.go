// Package ai defines the analysis contracts for Variant W: the pairwise
// answer analyzer and the narrative insights generator.
package ai

import (
	"context"

	"github.com/duetapp/duet/internal/engine/domain"
)

// PairAnalyzer compares two participants' transcribed answers to one
// scenario question. The question category is carried by the caller; the
// analyzer does not read it.
type PairAnalyzer interface {
	Analyze(ctx context.Context, question domain.ScenarioQuestion, textA, textB, nameA, nameB string) (domain.PairAnalysis, error)
}

// InsightsGenerator produces the narrative summary from aggregated results.
// Failure is non-fatal for callers: results stand without insights.
type InsightsGenerator interface {
	Summarize(ctx context.Context, results *domain.ScenarioResults, nameA, nameB string) (domain.InsightsRecord, error)
}

// Adapter serves both analysis concerns from one provider.
type Adapter interface {
	PairAnalyzer
	InsightsGenerator
}

// NeutralAnalysis is the fallback record when analysis is unavailable for a
// question.
func NeutralAnalysis(question domain.ScenarioQuestion) domain.PairAnalysis {
	return domain.PairAnalysis{
		QuestionNumber:    question.Number,
		Category:          question.Category,
		AlignmentScore:    50,
		AlignmentLevel:    domain.AlignmentModerate,
		SummaryA:          "",
		SummaryB:          "",
		ComparisonInsight: "Analysis unavailable",
		DiscussionPrompt:  "Discuss this scenario.",
	}
}
