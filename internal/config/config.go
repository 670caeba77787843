package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"statfiler/internal/browser"
	"statfiler/internal/calibrate"
	"statfiler/internal/evidence"
	"statfiler/internal/secrets"
	"statfiler/internal/store"
)

// Config holds all statfiler configuration.
type Config struct {
	Portal          PortalConfig              `yaml:"portal"`
	Browser         browser.Config            `yaml:"browser"`
	Selectors       SelectorsConfig           `yaml:"selectors"`
	RegisteredAgent calibrate.RegisteredAgent `yaml:"registered_agent"`
	Store           store.Config              `yaml:"store"`
	Evidence        EvidenceConfig            `yaml:"evidence"`
	Settlement      SettlementConfig          `yaml:"settlement"`
	Secrets         secrets.Config            `yaml:"secrets"`
	Health          HealthConfig              `yaml:"health"`
	Logging         LoggingConfig             `yaml:"logging"`
	Server          ServerConfig              `yaml:"server"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Portal: PortalConfig{
			EntryURL:            "https://efile.sunbiz.org/llc_file.html",
			PageLoadTimeout:     "30s",
			FieldTimeout:        "10s",
			ConfirmationTimeout: "90s",
			SubmitAttempts:      3,
			SubmitBackoffStep:   "2s",
		},

		Browser: browser.DefaultConfig(),

		Selectors: SelectorsConfig{
			Path:  "configs/selectors/llc-articles.yaml",
			Watch: true,
		},

		RegisteredAgent: calibrate.RegisteredAgent{
			Name:    "Statewide Registered Agents Inc",
			Address: "1200 Agent Way, Tallahassee, FL 32301",
		},

		Store: store.Config{
			Driver: store.DriverSQLite,
			DSN:    "data/statfiler.db",
		},

		Evidence: EvidenceConfig{
			Driver: evidence.DriverFilesystem,
			Prefix: evidence.DefaultPrefix,
			Dir:    "data/evidence",
		},

		Settlement: SettlementConfig{
			Enabled:        true,
			GatewayURL:     "http://localhost:8090",
			AmountMinor:    12500,
			Currency:       "USD",
			Recipient:      "Florida Department of State",
			Method:         "card",
			CredentialName: "gateway_api_key",
			Timeout:        "30s",
		},

		Secrets: secrets.Config{
			Driver:    secrets.DriverEnv,
			EnvPrefix: "STATFILER_SECRET_",
		},

		Health: HealthConfig{
			Interval: "15m",
			Submit:   false,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		Server: ServerConfig{
			Addr:             ":8080",
			BatchConcurrency: 4,
			ShutdownGrace:    "2m",
			RecordTimeout:    "1m",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("STATFILER_PORTAL_URL"); url != "" {
		c.Portal.EntryURL = url
	}
	if bin := os.Getenv("STATFILER_CHROME_BIN"); bin != "" {
		c.Browser.Bin = bin
	}

	if driver := os.Getenv("STATFILER_STORE_DRIVER"); driver != "" {
		c.Store.Driver = store.Driver(driver)
	}
	if dsn := os.Getenv("STATFILER_STORE_DSN"); dsn != "" {
		c.Store.DSN = dsn
	}

	if driver := os.Getenv("STATFILER_EVIDENCE_DRIVER"); driver != "" {
		c.Evidence.Driver = evidence.Driver(driver)
	}
	if bucket := os.Getenv("STATFILER_S3_BUCKET"); bucket != "" {
		c.Evidence.S3.Bucket = bucket
	}
	if region := os.Getenv("STATFILER_S3_REGION"); region != "" {
		c.Evidence.S3.Region = region
	}
	if endpoint := os.Getenv("STATFILER_S3_ENDPOINT"); endpoint != "" {
		c.Evidence.S3.Endpoint = endpoint
	}
	if endpoint := os.Getenv("STATFILER_MINIO_ENDPOINT"); endpoint != "" {
		c.Evidence.Minio.Endpoint = endpoint
	}
	if key := os.Getenv("STATFILER_MINIO_ACCESS_KEY"); key != "" {
		c.Evidence.Minio.AccessKey = key
	}
	if key := os.Getenv("STATFILER_MINIO_SECRET_KEY"); key != "" {
		c.Evidence.Minio.SecretKey = key
	}

	if url := os.Getenv("STATFILER_GATEWAY_URL"); url != "" {
		c.Settlement.GatewayURL = url
	}
	if v := os.Getenv("STATFILER_SETTLEMENT_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Settlement.Enabled = enabled
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Portal.EntryURL == "" {
		return fmt.Errorf("portal.entry_url is required (or set STATFILER_PORTAL_URL)")
	}
	if c.Portal.GetConfirmationTimeout() <= c.Portal.GetPageLoadTimeout() {
		return fmt.Errorf("portal.confirmation_timeout (%s) must exceed portal.page_load_timeout (%s)",
			c.Portal.GetConfirmationTimeout(), c.Portal.GetPageLoadTimeout())
	}
	if c.Portal.SubmitAttempts < 1 {
		return fmt.Errorf("portal.submit_attempts must be at least 1, got %d", c.Portal.SubmitAttempts)
	}

	switch c.Browser.Isolation {
	case browser.IsolationProcess, browser.IsolationContext, "":
	default:
		return fmt.Errorf("invalid browser.isolation: %s (valid: process, context)", c.Browser.Isolation)
	}

	if c.Selectors.Path == "" {
		return fmt.Errorf("selectors.path is required")
	}

	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverSQLite3, store.DriverMemory:
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid store.driver: %s (valid: sqlite, sqlite3, postgres, memory)", c.Store.Driver)
	}

	switch c.Evidence.Driver {
	case evidence.DriverFilesystem:
		if c.Evidence.Dir == "" {
			return fmt.Errorf("evidence.dir is required for the fs driver")
		}
	case evidence.DriverMemory:
	case evidence.DriverS3:
		if c.Evidence.S3.Bucket == "" {
			return fmt.Errorf("evidence.s3.bucket is required (or set STATFILER_S3_BUCKET)")
		}
	case evidence.DriverMinio:
		if c.Evidence.Minio.Endpoint == "" || c.Evidence.Minio.Bucket == "" {
			return fmt.Errorf("evidence.minio.endpoint and evidence.minio.bucket are required")
		}
	default:
		return fmt.Errorf("invalid evidence.driver: %s (valid: fs, memory, s3, minio)", c.Evidence.Driver)
	}

	switch c.Secrets.Driver {
	case secrets.DriverEnv, "":
	case secrets.DriverFile:
		if c.Secrets.Dir == "" {
			return fmt.Errorf("secrets.dir is required for the file driver")
		}
	default:
		return fmt.Errorf("invalid secrets.driver: %s (valid: env, file)", c.Secrets.Driver)
	}

	if c.Settlement.Enabled {
		if c.Settlement.GatewayURL == "" {
			return fmt.Errorf("settlement.gateway_url is required when settlement is enabled")
		}
		if c.Settlement.AmountMinor <= 0 {
			return fmt.Errorf("settlement.amount_minor must be positive")
		}
		if c.Settlement.CredentialName == "" {
			return fmt.Errorf("settlement.credential_name is required when settlement is enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("invalid logging.level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console", "":
	default:
		return fmt.Errorf("invalid logging.format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
