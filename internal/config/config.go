package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources    []Source          `yaml:"sources"`
	Keywords   []KeywordCategory `yaml:"keywords"`
	Categories []CategoryRule    `yaml:"categories"`
	Filter     Filter            `yaml:"filter"`
	Retention  Retention         `yaml:"retention"`
	Schedule   Schedule          `yaml:"schedule"`
	HTTP       HTTP              `yaml:"http"`
	Throttle   Throttle          `yaml:"throttle"`
	Output     Output            `yaml:"output"`
	Server     Server            `yaml:"server"`
	Logging    Logging           `yaml:"logging"`
}

// Source is a feed the pipeline collects from.
type Source struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
}

// KeywordCategory is a named keyword list with its score multiplier.
// Categories are scored in the order they appear in the config file.
type KeywordCategory struct {
	Name     string   `yaml:"name"`
	Weight   float64  `yaml:"weight"`
	Keywords []string `yaml:"keywords"`
}

// CategoryRule maps substrings to an article category. Rules are evaluated
// in file order and the first match wins.
type CategoryRule struct {
	Category string   `yaml:"category"`
	Patterns []string `yaml:"patterns"`
}

type Filter struct {
	MinRelevanceScore float64 `yaml:"min_relevance_score"`
	MaxArticlesPerRun int     `yaml:"max_articles_per_run"`
}

type Retention struct {
	ArticleDays  int `yaml:"article_days"`
	FetchLogDays int `yaml:"fetch_log_days"`
}

type Schedule struct {
	Time     string `yaml:"time"`
	Timezone string `yaml:"timezone"`
}

type HTTP struct {
	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

type Throttle struct {
	PageInterval   time.Duration `yaml:"page_interval"`
	SourceInterval time.Duration `yaml:"source_interval"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for agrinews.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "agrinews")
}

// DataDir returns the XDG data directory for agrinews.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "agrinews")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/agrinews/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'agrinews init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file. A .env file in the working
// directory is loaded first so environment overrides can live next to it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}

	// Missing .env is the normal case.
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	return parse(DefaultConfigYAML)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Filter: Filter{
			MinRelevanceScore: 0.2,
			MaxArticlesPerRun: 100,
		},
		Retention: Retention{
			ArticleDays:  60,
			FetchLogDays: 365,
		},
		Schedule: Schedule{
			Time:     "07:00",
			Timezone: "Europe/Paris",
		},
		HTTP: HTTP{
			UserAgent:  "Mozilla/5.0 (compatible; AgriNews/1.0; +https://github.com/TobiSchelling/AgriNews)",
			Timeout:    15 * time.Second,
			RetryCount: 1,
		},
		Throttle: Throttle{
			PageInterval:   time.Second,
			SourceInterval: 2 * time.Second,
		},
		Server:  Server{Port: 8080},
		Logging: Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("AGRINEWS_DATA_DIR"); v != "" {
		c.Output.DataDir = v
	}
	if v := os.Getenv("AGRINEWS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AGRINEWS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AGRINEWS_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if _, _, err := c.ScheduleClock(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Filter.MinRelevanceScore < 0 || c.Filter.MinRelevanceScore > 1 {
		return fmt.Errorf("filter.min_relevance_score must be within [0,1], got %v", c.Filter.MinRelevanceScore)
	}
	if c.Retention.ArticleDays <= 0 {
		return fmt.Errorf("retention.article_days must be positive, got %d", c.Retention.ArticleDays)
	}
	for i, s := range c.Sources {
		if strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("source %d: name and url are required", i)
		}
	}
	for _, kc := range c.Keywords {
		if kc.Weight < 0 {
			return fmt.Errorf("keyword category %q: negative weight", kc.Name)
		}
	}
	return nil
}

// ScheduleClock parses schedule.time as HH:MM.
func (c *Config) ScheduleClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.Schedule.Time))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid schedule.time %q (want HH:MM)", c.Schedule.Time)
	}
	return t.Hour(), t.Minute(), nil
}

// Location loads the schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the path of the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "newsfeed.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
