package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/duetapp/duet/internal/engine/domain"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func completionBody(t *testing.T, content any) string {
	t.Helper()
	encoded, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": string(encoded)}},
		},
	})
	if err != nil {
		t.Fatalf("marshal completion body: %v", err)
	}
	return string(body)
}

func testQuestion(t *testing.T) domain.ScenarioQuestion {
	t.Helper()
	question, err := domain.QuestionByNumber(1)
	if err != nil {
		t.Fatalf("question by number: %v", err)
	}
	return question
}

func TestNewOpenAIAdapterDefaults(t *testing.T) {
	adapter := NewOpenAIAdapter(OpenAIConfig{APIKey: "sk-test"})
	typed, ok := adapter.(*openAIAdapter)
	if !ok {
		t.Fatalf("adapter type = %T, want *openAIAdapter", adapter)
	}
	if typed.cfg.HTTPClient == nil {
		t.Fatal("expected non-nil HTTP client")
	}
	if typed.cfg.CompletionsURL != "https://api.openai.com/v1/chat/completions" {
		t.Fatalf("completions_url = %q", typed.cfg.CompletionsURL)
	}
	if typed.cfg.Model == "" {
		t.Fatal("expected default model")
	}
}

func TestAnalyzeDecodesResponse(t *testing.T) {
	var requested *http.Request
	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			requested = req
			return response(http.StatusOK, completionBody(t, map[string]any{
				"alignmentScore":    82,
				"summaryA":          "Alice leans on planning.",
				"summaryB":          "Bob improvises.",
				"comparisonInsight": "They balance each other.",
				"discussionPrompt":  "How do you split planning?",
			})), nil
		}),
	}
	adapter := NewOpenAIAdapter(OpenAIConfig{APIKey: "sk-test", HTTPClient: client})

	analysis, err := adapter.Analyze(context.Background(), testQuestion(t), "plan it", "wing it", "Alice", "Bob")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if requested == nil {
		t.Fatal("expected a request")
	}
	if got := requested.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("authorization header = %q", got)
	}
	if analysis.AlignmentScore != 82 {
		t.Fatalf("alignment score = %d, want 82", analysis.AlignmentScore)
	}
	if analysis.AlignmentLevel != domain.AlignmentStrong {
		t.Fatalf("alignment level = %q, want %q", analysis.AlignmentLevel, domain.AlignmentStrong)
	}
	if analysis.QuestionNumber != 1 {
		t.Fatalf("question number = %d, want 1", analysis.QuestionNumber)
	}
	if analysis.DiscussionPrompt != "How do you split planning?" {
		t.Fatalf("discussion prompt = %q", analysis.DiscussionPrompt)
	}
}

func TestAnalyzeClampsScore(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return response(http.StatusOK, completionBody(t, map[string]any{
				"alignmentScore":    140,
				"comparisonInsight": "off the scale",
			})), nil
		}),
	}
	adapter := NewOpenAIAdapter(OpenAIConfig{APIKey: "sk-test", HTTPClient: client})

	analysis, err := adapter.Analyze(context.Background(), testQuestion(t), "a", "b", "Alice", "Bob")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if analysis.AlignmentScore != 100 {
		t.Fatalf("alignment score = %d, want 100", analysis.AlignmentScore)
	}
	if analysis.DiscussionPrompt != "Discuss this scenario." {
		t.Fatalf("discussion prompt = %q", analysis.DiscussionPrompt)
	}
}

func TestAnalyzeFallsBackToNeutralOnFailure(t *testing.T) {
	tests := []struct {
		name      string
		transport roundTripFunc
	}{
		{
			name: "transport error",
			transport: func(req *http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
		},
		{
			name: "server error",
			transport: func(req *http.Request) (*http.Response, error) {
				return response(http.StatusInternalServerError, `{"error":"boom"}`), nil
			},
		},
		{
			name: "empty choices",
			transport: func(req *http.Request) (*http.Response, error) {
				return response(http.StatusOK, `{"choices":[]}`), nil
			},
		},
		{
			name: "content is not json",
			transport: func(req *http.Request) (*http.Response, error) {
				return response(http.StatusOK, `{"choices":[{"message":{"content":"not json"}}]}`), nil
			},
		},
	}

	question := testQuestion(t)
	want := NeutralAnalysis(question)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter := NewOpenAIAdapter(OpenAIConfig{
				APIKey:     "sk-test",
				HTTPClient: &http.Client{Transport: tc.transport},
			})
			analysis, err := adapter.Analyze(context.Background(), question, "a", "b", "Alice", "Bob")
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if analysis != want {
				t.Fatalf("analysis = %+v, want neutral %+v", analysis, want)
			}
		})
	}
}

func TestSummarizeDecodesResponse(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return response(http.StatusOK, completionBody(t, map[string]string{
				"overall_summary":        "A strong pairing.",
				"compatibility_analysis": "Aligned on values.",
				"communication_styles":   "Direct and open.",
				"values_alignment":       "Shared priorities.",
				"potential_challenges":   "Different paces.",
				"strengths_as_couple":    "Mutual respect.",
				"advice_forward":         "Keep talking.",
			})), nil
		}),
	}
	adapter := NewOpenAIAdapter(OpenAIConfig{APIKey: "sk-test", HTTPClient: client})

	results := &domain.ScenarioResults{
		OverallCompatibility: 74,
		CompatibilityLevel:   domain.CompatibilityGood,
		QuestionAnalyses: []domain.PairAnalysis{
			{QuestionNumber: 1, Category: "values", AlignmentScore: 74, ComparisonInsight: "close"},
		},
	}
	record, err := adapter.Summarize(context.Background(), results, "Alice", "Bob")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if record.OverallSummary != "A strong pairing." {
		t.Fatalf("overall summary = %q", record.OverallSummary)
	}
	if record.AdviceForward != "Keep talking." {
		t.Fatalf("advice forward = %q", record.AdviceForward)
	}
}

func TestSummarizeErrors(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return response(http.StatusBadGateway, "upstream down"), nil
		}),
	}
	adapter := NewOpenAIAdapter(OpenAIConfig{APIKey: "sk-test", HTTPClient: client})

	if _, err := adapter.Summarize(context.Background(), &domain.ScenarioResults{}, "Alice", "Bob"); err == nil {
		t.Fatal("expected error for upstream failure")
	}
	if _, err := adapter.Summarize(context.Background(), nil, "Alice", "Bob"); err == nil {
		t.Fatal("expected error for nil results")
	}
}

func TestSummarizeRequiresAPIKey(t *testing.T) {
	adapter := NewOpenAIAdapter(OpenAIConfig{
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				t.Fatalf("round trip should not execute without an api key: %v", req.URL)
				return nil, nil
			}),
		},
	})
	if _, err := adapter.Summarize(context.Background(), &domain.ScenarioResults{}, "Alice", "Bob"); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
