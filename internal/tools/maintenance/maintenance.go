// Package maintenance implements the operational CLI for the game engine:
// sweeping expired and stale sessions, and re-running pair analysis.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/duetapp/duet/internal/ai"
	"github.com/duetapp/duet/internal/directory"
	"github.com/duetapp/duet/internal/engine/reaper"
	"github.com/duetapp/duet/internal/engine/service"
	"github.com/duetapp/duet/internal/engine/storage/sqlite"
	"github.com/duetapp/duet/internal/media"
	"github.com/duetapp/duet/internal/media/fsstore"
	"github.com/duetapp/duet/internal/platform/config"
	"github.com/duetapp/duet/internal/transcriber"
)

// Subcommands.
const (
	CommandReap       = "reap"
	CommandRegenerate = "regenerate-analysis"
)

// Config holds maintenance command configuration.
type Config struct {
	Command string

	DBPath       string        `env:"ENGINE_DB_PATH" envDefault:"data/engine.db"`
	MediaRoot    string        `env:"MEDIA_ROOT" envDefault:"data/media"`
	MediaBaseURL string        `env:"MEDIA_BASE_URL" envDefault:"http://localhost:8080/media"`
	OpenAIAPIKey string        `env:"OPENAI_API_KEY"`
	OpenAIModel  string        `env:"OPENAI_MODEL"`
	Timeout      time.Duration `env:"MAINTENANCE_TIMEOUT" envDefault:"10m"`

	Retention  time.Duration
	Interval   time.Duration
	SessionID  string
	JSONOutput bool
}

// ParseConfig reads environment defaults, takes the leading subcommand, and
// parses the remaining flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Retention = reaper.DefaultRetention

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cfg.Command = args[0]
		args = args[1:]
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the sqlite session database")
	fs.StringVar(&cfg.MediaRoot, "media-root", cfg.MediaRoot, "directory holding uploaded audio blobs")
	fs.DurationVar(&cfg.Retention, "retention", cfg.Retention, "terminal sessions older than this are erased by reap")
	fs.DurationVar(&cfg.Interval, "interval", 0, "keep sweeping on this interval until the timeout (0 = single sweep)")
	fs.StringVar(&cfg.SessionID, "session-id", "", "session to re-analyze (regenerate-analysis)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	switch cfg.Command {
	case CommandReap:
		return runReap(ctx, cfg, out)
	case CommandRegenerate:
		return runRegenerate(ctx, cfg, out)
	case "":
		return fmt.Errorf("a subcommand is required: %s or %s", CommandReap, CommandRegenerate)
	default:
		return fmt.Errorf("unknown subcommand %q: want %s or %s", cfg.Command, CommandReap, CommandRegenerate)
	}
}

func runReap(ctx context.Context, cfg Config, out io.Writer) error {
	store, sink, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	sweeper, err := reaper.New(reaper.Config{
		Store:     store,
		Media:     sink,
		Interval:  cfg.Interval,
		Retention: cfg.Retention,
	})
	if err != nil {
		return err
	}

	if cfg.Interval > 0 {
		sweeper.Run(ctx)
		fmt.Fprintln(out, "reap stopped")
		return nil
	}
	if err := sweeper.Sweep(ctx); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintln(out, "sweep complete")
	return nil
}

func runRegenerate(ctx context.Context, cfg Config, out io.Writer) error {
	if strings.TrimSpace(cfg.SessionID) == "" {
		return errors.New("-session-id is required")
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return errors.New("OPENAI_API_KEY is required: regenerating without it would store neutral placeholder results")
	}

	store, sink, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	adapter := ai.NewOpenAIAdapter(ai.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
	})

	// Regeneration only reads stored transcriptions, so the speech and
	// directory collaborators are wired with inert implementations.
	svc, err := service.New(service.Config{
		Store:       store,
		Media:       sink,
		Transcriber: transcriber.Unavailable{},
		Analyzer:    adapter,
		Insights:    adapter,
		Users:       directory.Permissive{},
		Matches:     directory.Permissive{},
	})
	if err != nil {
		return err
	}
	defer svc.Drain()

	results, err := svc.RegenerateAnalysis(ctx, cfg.SessionID)
	if err != nil {
		return err
	}

	if cfg.JSONOutput {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}
	if results.Scenario != nil {
		fmt.Fprintf(out, "session %s re-analyzed: %d pairs, overall compatibility %d\n",
			results.SessionID, len(results.Scenario.QuestionAnalyses), results.Scenario.OverallCompatibility)
	}
	if results.Insights != nil {
		fmt.Fprintf(out, "insights: %s\n", results.Insights.OverallSummary)
	}
	return nil
}

func openStores(cfg Config) (*sqlite.Store, media.Sink, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	sink, err := fsstore.Open(cfg.MediaRoot, cfg.MediaBaseURL)
	if err != nil {
		closeStore(store)
		return nil, nil, fmt.Errorf("open media store: %w", err)
	}
	return store, sink, nil
}

func closeStore(store *sqlite.Store) {
	_ = store.Close()
}
