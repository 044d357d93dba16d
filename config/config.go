// Package config reads the service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"git-arcade/multiplayer"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Port           string   `env:"PORT" envDefault:"5200"`
	StoreDriver    string   `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string   `env:"DATABASE_URL"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	GatewayToken   string   `env:"GAME_SERVICE_TOKEN"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	ContentSource string `env:"CONTENT_SOURCE"`
	S3            S3Config

	Multiplayer          MultiplayerEnv
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1m"`
}

// S3Config points the content loader at an S3 compatible bucket (R2 works
// with a custom endpoint).
type S3Config struct {
	Endpoint        string `env:"S3_ENDPOINT"`
	Region          string `env:"S3_REGION" envDefault:"auto"`
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
}

type MultiplayerEnv struct {
	WorldID         int           `env:"MP_WORLD_ID" envDefault:"1"`
	ScoreLimit      int           `env:"MP_SCORE_LIMIT" envDefault:"5"`
	GameDuration    int           `env:"MP_GAME_DURATION_SECONDS" envDefault:"120"`
	QueuePoll       time.Duration `env:"MP_QUEUE_POLL" envDefault:"2s"`
	ReadyPoll       time.Duration `env:"MP_READY_POLL" envDefault:"1s"`
	ActivityPoll    time.Duration `env:"MP_ACTIVITY_POLL" envDefault:"800ms"`
	InviteTTL       time.Duration `env:"MP_INVITE_TTL" envDefault:"5m"`
	QueueStaleAfter time.Duration `env:"MP_QUEUE_STALE_AFTER" envDefault:"2m"`
}

// Load reads .env when present and parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Str("component", "config").Msg("no .env file found, reading environment variables directly")
	}
	return Parse()
}

func Parse() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the %s store", c.StoreDriver)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Multiplayer.ScoreLimit < 1 || c.Multiplayer.GameDuration < 1 {
		return fmt.Errorf("MP_SCORE_LIMIT and MP_GAME_DURATION_SECONDS must be positive")
	}
	if c.HousekeepingInterval <= 0 {
		return fmt.Errorf("HOUSEKEEPING_INTERVAL must be positive")
	}
	return nil
}

// MultiplayerConfig overlays the environment on the multiplayer defaults.
func (c Config) MultiplayerConfig() multiplayer.Config {
	mc := multiplayer.DefaultConfig()
	mp := c.Multiplayer
	mc.WorldID = mp.WorldID
	mc.ScoreLimit = mp.ScoreLimit
	mc.GameDuration = time.Duration(mp.GameDuration) * time.Second
	mc.QueuePoll = mp.QueuePoll
	mc.InvitePoll = mp.QueuePoll
	mc.ReadyPoll = mp.ReadyPoll
	mc.ActivityPoll = mp.ActivityPoll
	mc.InviteTTL = mp.InviteTTL
	mc.QueueStaleAfter = mp.QueueStaleAfter
	return mc
}

// Level parses LOG_LEVEL, falling back to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (c Config) CORSOrigins() string {
	return strings.Join(c.AllowedOrigins, ",")
}
