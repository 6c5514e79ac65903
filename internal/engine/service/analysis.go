package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/duetapp/duet/internal/ai"
	"github.com/duetapp/duet/internal/engine/domain"
	apperrors "github.com/duetapp/duet/internal/errors"
)

// scheduleAnalysis starts the detached analysis worker for a session that
// just entered analyzing. The WaitGroup lets shutdown drain in-flight runs.
func (s *Service) scheduleAnalysis(sessionID string) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		if err := s.runAnalysis(context.Background(), sessionID); err != nil {
			log.Printf("service: analysis for session %s failed: %v", sessionID, err)
		}
	}()
}

// ResumeAnalyses re-schedules the worker for every session still marked
// analyzing, picking up runs a previous process lost. Duplicate schedules
// are harmless: runAnalysis aborts when the status has moved on.
func (s *Service) ResumeAnalyses(ctx context.Context) error {
	stuck, err := s.store.FindAnalyzing(ctx)
	if err != nil {
		return fmt.Errorf("find analyzing sessions: %w", err)
	}
	for _, session := range stuck {
		log.Printf("service: resuming analysis for session %s", session.ID)
		s.scheduleAnalysis(session.ID)
	}
	return nil
}

// runAnalysis executes the Variant W pipeline: analyze every fully
// transcribed pair, aggregate the rollup, and complete the session. A
// session no longer in analyzing is someone else's work; the run aborts
// without effect, which makes duplicate schedules harmless.
func (s *Service) runAnalysis(ctx context.Context, sessionID string) error {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusAnalyzing {
		return nil
	}

	results := domain.BuildScenarioResults(s.analyzePairs(ctx, &session))

	updated, err := s.mutate(ctx, sessionID, func(sess *domain.Session) error {
		return sess.CompleteAnalysis(results, s.now())
	})
	if err != nil {
		// A concurrent run already completed the session.
		if apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
			return nil
		}
		return err
	}

	s.generateInsights(ctx, &updated)
	return nil
}

// analyzePairs calls the analyzer once per transcribed question pair, in
// question order, spacing calls by the configured backoff. Analyzer errors
// degrade to the neutral record so one bad call never blocks results.
func (s *Service) analyzePairs(ctx context.Context, session *domain.Session) []domain.PairAnalysis {
	pairs := session.TranscribedPairs()
	analyses := make([]domain.PairAnalysis, 0, len(pairs))
	for i, question := range pairs {
		if i > 0 {
			select {
			case <-ctx.Done():
				return analyses
			case <-time.After(s.analysisBackoff):
			}
		}
		analysis, err := s.analyzer.Analyze(ctx, question,
			session.ParticipantA.VoiceAnswers[question.Number].Transcription,
			session.ParticipantB.VoiceAnswers[question.Number].Transcription,
			session.ParticipantA.DisplayName,
			session.ParticipantB.DisplayName,
		)
		if err != nil {
			log.Printf("service: pair analysis for session %s question %d failed: %v",
				session.ID, question.Number, err)
			analysis = ai.NeutralAnalysis(question)
		}
		analyses = append(analyses, analysis)
	}
	return analyses
}

// generateInsights attempts the narrative insights once per completion.
// Failure is logged and leaves the session without insights.
func (s *Service) generateInsights(ctx context.Context, session *domain.Session) {
	if s.insights == nil || session.Results == nil || session.Results.Scenario == nil {
		return
	}
	record, err := s.insights.Summarize(ctx, session.Results.Scenario,
		session.ParticipantA.DisplayName, session.ParticipantB.DisplayName)
	if err != nil {
		log.Printf("service: insights for session %s failed: %v", session.ID, err)
		return
	}
	if _, err := s.mutate(ctx, session.ID, func(sess *domain.Session) error {
		sess.Insights = &record
		return nil
	}); err != nil {
		log.Printf("service: persist insights for session %s failed: %v", session.ID, err)
	}
}

// RegenerateAnalysis re-runs the Variant W pipeline on a finished session,
// preserving stored transcriptions and overwriting results and insights.
// Maintenance entry point; not reachable from the API surface.
func (s *Service) RegenerateAnalysis(ctx context.Context, sessionID string) (ResultsView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return ResultsView{}, err
	}
	if session.Variant != domain.VariantScenarios {
		return ResultsView{}, apperrors.New(apperrors.CodeVariantMismatch,
			"analysis regeneration applies to the what would you do variant")
	}
	if session.Status != domain.StatusCompleted && session.Status != domain.StatusDiscussion {
		return ResultsView{}, apperrors.WithMetadata(apperrors.CodeInvalidTransition,
			"analysis can only be regenerated on a finished session",
			map[string]string{"session_id": sessionID, "status": domain.StatusLabel(session.Status)})
	}

	results := domain.BuildScenarioResults(s.analyzePairs(ctx, &session))

	updated, err := s.mutate(ctx, sessionID, func(sess *domain.Session) error {
		sess.Results = &domain.Results{Scenario: results}
		sess.Insights = nil
		return nil
	})
	if err != nil {
		return ResultsView{}, err
	}

	s.generateInsights(ctx, &updated)

	final, err := s.load(ctx, sessionID)
	if err != nil {
		return ResultsView{}, err
	}
	return resultsViewFor(&final), nil
}
