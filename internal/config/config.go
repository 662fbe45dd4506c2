package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/jensholdgaard/auctiond/internal/ladder"
)

// Environment variables that override secrets from the YAML file. They may
// also be set in a .env file next to the config file.
const (
	EnvDiscordToken = "AUCTIOND_DISCORD_TOKEN"
	EnvDBPassword   = "AUCTIOND_DB_PASSWORD"
)

// Config represents the application configuration.
type Config struct {
	Auction        AuctionConfig        `yaml:"auction"`
	Keyboard       KeyboardConfig       `yaml:"keyboard"`
	Roster         RosterConfig         `yaml:"roster"`
	Discord        DiscordConfig        `yaml:"discord"`
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// AuctionConfig holds the bidding rules.
type AuctionConfig struct {
	Name string `yaml:"name"`
	// Ladder overrides the default increment table. The last tier has no bound.
	Ladder []LadderTier `yaml:"ladder"`
	// SlotReserve is held back per empty roster slot when computing a team's
	// maximum bid.
	SlotReserve decimal.Decimal `yaml:"slot_reserve"`
	RandomSeed  uint64          `yaml:"random_seed"`
	// Resume recovers outcomes from the most recent journaled session.
	Resume bool `yaml:"resume"`
}

// LadderTier is one row of the increment table.
type LadderTier struct {
	Below decimal.Decimal `yaml:"below"`
	Step  decimal.Decimal `yaml:"step"`
}

// BidLadder builds the configured ladder, or the default one when no tiers
// are configured.
func (a AuctionConfig) BidLadder() (ladder.Ladder, error) {
	if len(a.Ladder) == 0 {
		return ladder.Default(), nil
	}
	tiers := make([]ladder.Tier, len(a.Ladder))
	for i, t := range a.Ladder {
		tiers[i] = ladder.Tier{Below: t.Below, Step: t.Step}
	}
	return ladder.New(tiers)
}

// KeyboardConfig holds presenter keyboard settings.
type KeyboardConfig struct {
	ChordWindow time.Duration `yaml:"chord_window"`
}

// RosterConfig points at the YAML roster used by the file driver and by the
// import flag.
type RosterConfig struct {
	File           string        `yaml:"file"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// DiscordConfig holds Discord bot settings. The bot is disabled when Token
// is empty.
type DiscordConfig struct {
	Token             string `yaml:"token"`
	GuildID           string `yaml:"guild_id"`
	AnnounceChannelID string `yaml:"announce_channel_id"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx", "ent" or "file"
	// RosterFile is read by the file driver.
	RosterFile string `yaml:"-"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins lists origins permitted to open the snapshot websocket.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Load reads a YAML configuration file from the given path. Secrets are
// then taken from the environment, falling back to a .env file in the same
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Auction: AuctionConfig{
			Name:        "Auction",
			SlotReserve: decimal.Zero,
		},
		Keyboard: KeyboardConfig{
			ChordWindow: 800 * time.Millisecond,
		},
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctiond-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	dotenv, err := godotenv.Read(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env file: %w", err)
	}
	cfg.applyEnv(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return dotenv[key]
	})
	cfg.Database.RosterFile = cfg.Roster.File

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDiscordToken); v != "" {
		c.Discord.Token = v
	}
	if v := getenv(EnvDBPassword); v != "" {
		c.Database.Password = v
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "ent":
		// valid
	case "file":
		if c.Roster.File == "" {
			return fmt.Errorf("database driver \"file\" requires roster.file")
		}
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\", \"ent\" or \"file\"", c.Database.Driver)
	}
	if _, err := c.Auction.BidLadder(); err != nil {
		return fmt.Errorf("auction.ladder: %w", err)
	}
	if c.Auction.SlotReserve.IsNegative() {
		return fmt.Errorf("auction.slot_reserve must not be negative")
	}
	if c.Keyboard.ChordWindow <= 0 {
		return fmt.Errorf("keyboard.chord_window must be positive")
	}
	if c.Discord.AnnounceChannelID != "" && c.Discord.Token == "" {
		return fmt.Errorf("discord.announce_channel_id requires a discord token")
	}
	return nil
}
