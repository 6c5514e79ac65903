// Package app wires the engine's collaborators and runs the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/duetapp/duet/internal/ai"
	"github.com/duetapp/duet/internal/directory"
	httpapi "github.com/duetapp/duet/internal/engine/api/http"
	"github.com/duetapp/duet/internal/engine/reaper"
	"github.com/duetapp/duet/internal/engine/service"
	"github.com/duetapp/duet/internal/engine/storage/sqlite"
	"github.com/duetapp/duet/internal/media/fsstore"
	"github.com/duetapp/duet/internal/transcriber/cloudspeech"
)

const shutdownTimeout = 10 * time.Second

// Config holds engine server configuration, loaded from the environment.
type Config struct {
	Port         int    `env:"ENGINE_PORT" envDefault:"8080"`
	DBPath       string `env:"ENGINE_DB_PATH" envDefault:"data/engine.db"`
	MediaRoot    string `env:"MEDIA_ROOT" envDefault:"data/media"`
	MediaBaseURL string `env:"MEDIA_BASE_URL" envDefault:"http://localhost:8080/media"`

	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL"`

	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	SpeechLanguage             string `env:"SPEECH_LANGUAGE" envDefault:"en-US"`
	SpeechLocation             string `env:"SPEECH_LOCATION" envDefault:"global"`

	DirectoryBaseURL string `env:"DIRECTORY_BASE_URL"`

	ReapInterval    time.Duration `env:"REAP_INTERVAL" envDefault:"5m"`
	RetentionWindow time.Duration `env:"RETENTION_WINDOW" envDefault:"720h"`
	InviteTTL       time.Duration `env:"INVITE_TTL" envDefault:"72h"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"168h"`
}

// Run assembles the engine from cfg and serves HTTP until ctx is cancelled.
// Shutdown drains in-flight requests and background analysis workers before
// closing the store.
func Run(ctx context.Context, cfg Config) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("app: close session store: %v", err)
		}
	}()

	sink, err := fsstore.Open(cfg.MediaRoot, cfg.MediaBaseURL)
	if err != nil {
		return fmt.Errorf("open media store: %w", err)
	}

	if strings.TrimSpace(cfg.GoogleCloudProjectID) == "" {
		return errors.New("GOOGLE_CLOUD_PROJECT_ID is required")
	}
	speech, err := cloudspeech.New(cloudspeech.Config{
		ProjectID:       cfg.GoogleCloudProjectID,
		CredentialsJSON: cfg.GoogleCloudCredentialsJSON,
		Language:        cfg.SpeechLanguage,
		Location:        cfg.SpeechLocation,
	})
	if err != nil {
		return fmt.Errorf("build transcriber: %w", err)
	}

	adapter := ai.NewOpenAIAdapter(ai.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
	})
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Printf("app: OPENAI_API_KEY is not set; pair analysis will fall back to neutral results")
	}

	var users directory.UserDirectory
	var matches directory.MatchDirectory
	if strings.TrimSpace(cfg.DirectoryBaseURL) != "" {
		dir, err := directory.NewHTTP(directory.HTTPConfig{BaseURL: cfg.DirectoryBaseURL})
		if err != nil {
			return fmt.Errorf("build directory client: %w", err)
		}
		users, matches = dir, dir
	} else {
		log.Printf("app: DIRECTORY_BASE_URL is not set; all matches are treated as mutual")
		permissive := directory.Permissive{}
		users, matches = permissive, permissive
	}

	svc, err := service.New(service.Config{
		Store:       store,
		Media:       sink,
		Transcriber: speech,
		Analyzer:    adapter,
		Insights:    adapter,
		Users:       users,
		Matches:     matches,
		InviteTTL:   cfg.InviteTTL,
		SessionTTL:  cfg.SessionTTL,
	})
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer svc.Drain()

	// Analyses interrupted by a previous shutdown pick up where they left off.
	if err := svc.ResumeAnalyses(ctx); err != nil {
		return fmt.Errorf("resume analyses: %w", err)
	}

	sweeper, err := reaper.New(reaper.Config{
		Store:     store,
		Media:     sink,
		Interval:  cfg.ReapInterval,
		Retention: cfg.RetentionWindow,
	})
	if err != nil {
		return fmt.Errorf("build reaper: %w", err)
	}
	go sweeper.Run(ctx)

	router := httpapi.NewHandler(svc).Router()
	router.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaRoot))))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("app: engine listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
