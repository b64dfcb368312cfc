// Package poker parses poker command flags and composes the service entrypoint.
package poker

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/planningdeck/planningdeck/internal/platform/cmd"
	server "github.com/planningdeck/planningdeck/internal/poker/app"
)

// Config holds poker command configuration.
type Config struct {
	HTTPAddr         string `env:"PLANNINGDECK_HTTP_ADDR"           envDefault:":8090"`
	DatabasePath     string `env:"PLANNINGDECK_DB_PATH"             envDefault:"poker.db"`
	TokenSecret      string `env:"PLANNINGDECK_TOKEN_SECRET"`
	GitHubToken      string `env:"PLANNINGDECK_GITHUB_TOKEN"`
	GitHubAPIBaseURL string `env:"PLANNINGDECK_GITHUB_API_BASE_URL"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "poker HTTP listen address")
	fs.StringVar(&cfg.DatabasePath, "db-path", cfg.DatabasePath, "SQLite database path")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "websocket token signing secret")
	fs.StringVar(&cfg.GitHubToken, "github-token", cfg.GitHubToken, "GitHub API token for round summaries")
	fs.StringVar(&cfg.GitHubAPIBaseURL, "github-api-base-url", cfg.GitHubAPIBaseURL, "GitHub API base URL override")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the poker app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServicePoker, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:         cfg.HTTPAddr,
			DatabasePath:     cfg.DatabasePath,
			TokenSecret:      cfg.TokenSecret,
			GitHubToken:      cfg.GitHubToken,
			GitHubAPIBaseURL: cfg.GitHubAPIBaseURL,
		}); err != nil {
			return fmt.Errorf("serve poker: %w", err)
		}
		return nil
	})
}
