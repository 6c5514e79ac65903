// Package engine parses engine command flags and starts the game engine.
package engine

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/duetapp/duet/internal/engine/app"
	"github.com/duetapp/duet/internal/platform/config"
)

// ParseConfig loads a .env file when present, then environment defaults,
// then command-line flag overrides.
func ParseConfig(fs *flag.FlagSet, args []string) (app.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("engine: no .env file found, using environment variables")
	}
	var cfg app.Config
	if err := config.ParseEnv(&cfg); err != nil {
		return app.Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The engine server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the sqlite session database")
	fs.StringVar(&cfg.MediaRoot, "media-root", cfg.MediaRoot, "Directory holding uploaded audio blobs")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

// Run starts the engine HTTP service.
func Run(ctx context.Context, cfg app.Config) error {
	return app.Run(ctx, cfg)
}
