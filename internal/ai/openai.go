package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/duetapp/duet/internal/engine/domain"
)

// OpenAIConfig configures the OpenAI chat completions endpoint and HTTP
// behavior.
type OpenAIConfig struct {
	APIKey         string
	Model          string
	CompletionsURL string
	HTTPClient     *http.Client
}

type openAIAdapter struct {
	cfg OpenAIConfig
}

// NewOpenAIAdapter builds an adapter that serves both pair analysis and
// insights generation over the OpenAI chat completions API.
func NewOpenAIAdapter(cfg OpenAIConfig) Adapter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.CompletionsURL) == "" {
		cfg.CompletionsURL = "https://api.openai.com/v1/chat/completions"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &openAIAdapter{cfg: cfg}
}

// Analyze never fails the round: any transport, decode, or validation error
// collapses into the neutral record so one bad call cannot sink the session.
func (a *openAIAdapter) Analyze(ctx context.Context, question domain.ScenarioQuestion, textA, textB, nameA, nameB string) (domain.PairAnalysis, error) {
	system := "You compare how two people answered the same relationship scenario. " +
		"Respond with a JSON object containing: alignmentScore (integer 0-100), " +
		"summaryA (one sentence on the first person's answer), " +
		"summaryB (one sentence on the second person's answer), " +
		"comparisonInsight (2-3 sentences comparing their approaches), " +
		"discussionPrompt (one open question the couple should talk through)."
	user := fmt.Sprintf("Scenario (%s): %s\n\n%s answered: %s\n\n%s answered: %s",
		question.Category, question.Text, nameA, textA, nameB, textB)

	var payload struct {
		AlignmentScore    int    `json:"alignmentScore"`
		SummaryA          string `json:"summaryA"`
		SummaryB          string `json:"summaryB"`
		ComparisonInsight string `json:"comparisonInsight"`
		DiscussionPrompt  string `json:"discussionPrompt"`
	}
	if err := a.completeJSON(ctx, system, user, &payload); err != nil {
		return NeutralAnalysis(question), nil
	}
	if strings.TrimSpace(payload.ComparisonInsight) == "" {
		return NeutralAnalysis(question), nil
	}
	score := payload.AlignmentScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	prompt := strings.TrimSpace(payload.DiscussionPrompt)
	if prompt == "" {
		prompt = "Discuss this scenario."
	}
	return domain.PairAnalysis{
		QuestionNumber:    question.Number,
		Category:          question.Category,
		AlignmentScore:    score,
		AlignmentLevel:    domain.AlignmentLevelFor(score),
		SummaryA:          strings.TrimSpace(payload.SummaryA),
		SummaryB:          strings.TrimSpace(payload.SummaryB),
		ComparisonInsight: strings.TrimSpace(payload.ComparisonInsight),
		DiscussionPrompt:  prompt,
	}, nil
}

func (a *openAIAdapter) Summarize(ctx context.Context, results *domain.ScenarioResults, nameA, nameB string) (domain.InsightsRecord, error) {
	if results == nil {
		return domain.InsightsRecord{}, fmt.Errorf("results are required")
	}
	system := "You write a warm, honest compatibility report for a couple based on " +
		"how they answered relationship scenarios. Respond with a JSON object " +
		"containing: overall_summary, compatibility_analysis, communication_styles, " +
		"values_alignment, potential_challenges, strengths_as_couple, advice_forward. " +
		"Each field is 2-4 sentences of plain prose."
	user := buildInsightsPrompt(results, nameA, nameB)

	var record domain.InsightsRecord
	if err := a.completeJSON(ctx, system, user, &record); err != nil {
		return domain.InsightsRecord{}, err
	}
	if strings.TrimSpace(record.OverallSummary) == "" {
		return domain.InsightsRecord{}, fmt.Errorf("insights response missing overall summary")
	}
	return record, nil
}

func buildInsightsPrompt(results *domain.ScenarioResults, nameA, nameB string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s and %s scored %d/100 overall (%s).\n",
		nameA, nameB, results.OverallCompatibility, results.CompatibilityLevel)
	if len(results.StrongestAreas) > 0 {
		fmt.Fprintf(&b, "Strongest areas: %s.\n", joinCategories(results.StrongestAreas))
	}
	if len(results.AreasToDiscuss) > 0 {
		fmt.Fprintf(&b, "Areas to discuss: %s.\n", joinCategories(results.AreasToDiscuss))
	}
	b.WriteString("Per-question analysis:\n")
	for _, analysis := range results.QuestionAnalyses {
		fmt.Fprintf(&b, "- Q%d (%s, %d/100): %s\n",
			analysis.QuestionNumber, analysis.Category, analysis.AlignmentScore, analysis.ComparisonInsight)
	}
	return b.String()
}

func joinCategories(analyses []domain.PairAnalysis) string {
	names := make([]string, 0, len(analyses))
	for _, analysis := range analyses {
		names = append(names, analysis.Category)
	}
	return strings.Join(names, ", ")
}

func (a *openAIAdapter) completeJSON(ctx context.Context, system, user string, target any) error {
	apiKey := strings.TrimSpace(a.cfg.APIKey)
	if apiKey == "" {
		return fmt.Errorf("api key is required")
	}

	requestBody, err := json.Marshal(map[string]any{
		"model": a.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return fmt.Errorf("marshal completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.CompletionsURL, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material is sent only as an Authorization header and is never
	// echoed in errors or response payloads.
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("completion request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return fmt.Errorf("read completion error body: %w", err)
		}
		return fmt.Errorf("completion request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode completion response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return fmt.Errorf("completion response missing choices")
	}
	content := strings.TrimSpace(payload.Choices[0].Message.Content)
	if content == "" {
		return fmt.Errorf("completion response missing content")
	}
	if err := json.Unmarshal([]byte(content), target); err != nil {
		return fmt.Errorf("decode completion content: %w", err)
	}
	return nil
}
