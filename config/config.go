package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/krakendca/internal/domain"
)

const (
	DefaultListen       = ":8000"
	DefaultOrderbookDir = "./orderbook"
	DefaultJournalDir   = "./wal/intents"
	DefaultCurrency     = "EUR"
	DefaultUserRef      = 1337
	GeneratedFile       = "config.gen.yaml"
)

type SlackConfig struct {
	HookDev  string `yaml:"hook_dev,omitempty"`
	HookMain string `yaml:"hook_main,omitempty"`
}

type KrakenConfig struct {
	URL             string        `yaml:"url"`
	UserAgent       string        `yaml:"user_agent"`
	Timeout         time.Duration `yaml:"timeout"`
	BalanceDenylist []string      `yaml:"balance_denylist"`
}

type RecordsConfig struct {
	// PostgresDSN enables a Postgres mirror of the order records when set.
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

type WebConfig struct {
	Listen     string   `yaml:"listen"`
	TLSDomains []string `yaml:"tls_domains,omitempty"`
	CertCache  string   `yaml:"cert_cache,omitempty"`
}

type SentimentConfig struct {
	URL string `yaml:"url,omitempty"`
}

// Config is the process-wide configuration, built once at startup.
type Config struct {
	AppName      string              `yaml:"app_name"`
	Currency     string              `yaml:"currency"`
	UserRef      int64               `yaml:"userref"`
	OrderbookDir string              `yaml:"orderbook_dir"`
	JournalDir   string              `yaml:"journal_dir"`
	Slack        SlackConfig         `yaml:"slack"`
	Kraken       KrakenConfig        `yaml:"kraken"`
	Records      RecordsConfig       `yaml:"records,omitempty"`
	Web          WebConfig           `yaml:"web"`
	Sentiment    SentimentConfig     `yaml:"sentiment,omitempty"`
	DCA          domain.BudgetConfig `yaml:"dca"`

	// APIKey and PrivateKey are read from the environment only.
	APIKey     string `yaml:"-"`
	PrivateKey string `yaml:"-"`
	// Setup asks the caller to run the configuration wizard.
	Setup bool `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AppName:      "Kraken DCA API",
		Currency:     DefaultCurrency,
		UserRef:      DefaultUserRef,
		OrderbookDir: DefaultOrderbookDir,
		JournalDir:   DefaultJournalDir,
		Kraken: KrakenConfig{
			URL:             "https://api.kraken.com",
			UserAgent:       "dca-bot",
			Timeout:         30 * time.Second,
			BalanceDenylist: []string{"EOS", "DASH", "XXRP"},
		},
		Web: WebConfig{Listen: DefaultListen},
		DCA: domain.BudgetConfig{
			Interval: "biweekly",
			Trades: []domain.BudgetEntry{
				{Pair: "XXBTZEUR", Amount: decimal.NewFromInt(12)},
				{Pair: "XETHZEUR", Amount: decimal.NewFromInt(16)},
				{Pair: "XXMRZEUR", Amount: decimal.NewFromInt(12)},
				{Pair: "ALGOEUR", Amount: decimal.NewFromInt(10)},
			},
		},
	}
}

// Get builds the configuration from command-line flags, the optional YAML file and the environment.
func Get() (Config, error) {
	return Load(os.Args[1:], os.Getenv)
}

// Load is Get with explicit arguments and environment lookup.
func Load(args []string, getenv func(string) string) (Config, error) {
	fs := flag.NewFlagSet("krakendca", flag.ContinueOnError)
	path := fs.String("config", "", "path to yaml config")
	setup := fs.Bool("setup", false, "run the configuration wizard and write "+GeneratedFile)
	listen := fs.String("listen", "", "http listen address, overrides web.listen")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *path != "" {
		var err error
		if cfg, err = fromFile(cfg, *path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if *listen != "" {
		cfg.Web.Listen = *listen
	}
	cfg.Setup = *setup

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// FromFile loads path over the defaults and applies the environment.
func FromFile(path string, getenv func(string) string) (Config, error) {
	return Load([]string{"--config", path}, getenv)
}

func fromFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
	}

	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	cfg.APIKey = getenv("API_KEY")
	cfg.PrivateKey = getenv("PRIVATE_KEY")

	if v := getenv("SLACK_HOOK_DEV"); v != "" {
		cfg.Slack.HookDev = v
	}
	if v := getenv("SLACK_HOOK_MAIN"); v != "" {
		cfg.Slack.HookMain = v
	}
	if v := getenv("USERREF"); v != "" {
		ref, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("incorrect USERREF env %q (must be an integer): %w", v, err)
		}
		cfg.UserRef = ref
	}

	return nil
}

// Validate checks the values the services rely on.
func (c Config) Validate() error {
	if c.UserRef <= 0 {
		return fmt.Errorf("incorrect 'userref' param: must be positive, got %d", c.UserRef)
	}
	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("'currency' param must not be empty")
	}
	if c.Web.Listen == "" {
		return fmt.Errorf("'web.listen' param must not be empty")
	}
	if c.Kraken.Timeout < 0 {
		return fmt.Errorf("incorrect 'kraken.timeout' param: %s", c.Kraken.Timeout)
	}
	if err := c.DCA.Validate(); err != nil {
		return errors.Wrap(err, "incorrect 'dca' section")
	}
	return nil
}

// HasCredentials reports whether both exchange keys are set.
func (c Config) HasCredentials() bool {
	return c.APIKey != "" && c.PrivateKey != ""
}
