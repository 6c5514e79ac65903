// Package cloudspeech implements the transcriber contract with the Google
// Cloud Speech-to-Text v2 batch API.
package cloudspeech

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/duetapp/duet/internal/transcriber"
	"google.golang.org/api/option"
)

const speechAPIEndpointPort = 443

// Config carries project and recognizer settings for Cloud Speech.
type Config struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// Transcriber recognizes short audio blobs with Cloud Speech v2. A fresh
// client is dialed per call; voice answers are short and infrequent enough
// that connection reuse is not worth the shared state.
type Transcriber struct {
	projectID       string
	credentialsJSON string
	language        string
	location        string
	model           string
}

var _ transcriber.Transcriber = (*Transcriber)(nil)

// New builds a Cloud Speech transcriber.
func New(cfg Config) (*Transcriber, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("google cloud project id is required")
	}
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = "en-US"
	}
	return &Transcriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		language:        language,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
	}, nil
}

// Transcribe runs a synchronous recognition over the blob and joins the
// result alternatives into one transcript.
func (t *Transcriber) Transcribe(ctx context.Context, blob []byte, mimeType string) (string, error) {
	if len(blob) == 0 {
		return "", fmt.Errorf("audio blob is empty")
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return "", fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{option.WithAuthCredentials(creds)}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("dial speech client: %w", err)
	}
	defer func() { _ = client.Close() }()

	response, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location),
		Config: &speechpb.RecognitionConfig{
			Model:         t.model,
			LanguageCodes: []string{t.language},
			DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{
				AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
			},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: blob},
	})
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}

	var parts []string
	for _, result := range response.GetResults() {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		if transcript := strings.TrimSpace(alternatives[0].GetTranscript()); transcript != "" {
			parts = append(parts, transcript)
		}
	}
	return strings.Join(parts, " "), nil
}
