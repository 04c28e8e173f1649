// Package config loads govledger settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed view of every supported key.
type Config struct {
	Server     ServerConfig
	Ledger     LedgerConfig
	Signing    SigningConfig
	Trust      TrustConfig
	RateLimit  RateLimitConfig
	Federation FederationConfig
	Monitor    MonitorConfig
	Alert      AlertConfig

	// File is the config file that was read, or empty.
	File string
}

type ServerConfig struct {
	Port           int
	CORSOrigins    []string
	GRPCHealthPort int
}

type LedgerConfig struct {
	RootDir string
	Lock    bool
}

type SigningConfig struct {
	Mode              string
	Ed25519KeyFile    string
	Ed25519PublicFile string
	GPGKeyID          string
	GPGBinary         string
	Timeout           time.Duration
	RequireSignatures bool
}

type TrustConfig struct {
	Secret          string
	Issuer          string
	ValidityDays    int
	GovernanceBlock string
	ComplianceStage string
	BaseURL         string
}

type RateLimitConfig struct {
	Requests        int
	Window          time.Duration
	Backend         string
	RedisURL        string
	WebhookRequests int
}

type FederationConfig struct {
	APIKeyHash      string
	RegistryFile    string
	DatabaseURL     string
	RequestInterval time.Duration
	RequestTimeout  time.Duration
	PollInterval    time.Duration
}

type MonitorConfig struct {
	Interval time.Duration
}

// AlertConfig routes state-change alerts. Mail goes out only when
// SMTPHost is set; otherwise alerts are logged.
type AlertConfig struct {
	Emails        []string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	FromAddress   string
	WebhookURLs   []string
	WebhookSecret string
	SourceID      string
}

// Signing modes.
const (
	SigningNone    = "none"
	SigningEd25519 = "ed25519"
	SigningGPG     = "gpg"
)

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.grpc_health_port", 0)

	v.SetDefault("ledger.root_dir", ".")
	v.SetDefault("ledger.lock", true)

	v.SetDefault("signing.mode", SigningNone)
	v.SetDefault("signing.ed25519_key_file", "keys/ledger-ed25519.pem")
	v.SetDefault("signing.ed25519_public_file", "keys/ledger-ed25519.pub.pem")
	v.SetDefault("signing.gpg_key_id", "")
	v.SetDefault("signing.gpg_binary", "gpg")
	v.SetDefault("signing.timeout", "10s")
	v.SetDefault("signing.require_signatures", false)

	v.SetDefault("trust.secret", "")
	v.SetDefault("trust.issuer", "trust-attestation-service")
	v.SetDefault("trust.validity_days", 90)
	v.SetDefault("trust.governance_block", "governance-ledger")
	v.SetDefault("trust.compliance_stage", "active")
	v.SetDefault("trust.base_url", "http://localhost:8080")

	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.redis_url", "")
	v.SetDefault("ratelimit.webhook_requests", 30)

	v.SetDefault("federation.api_key_hash", "")
	v.SetDefault("federation.registry_file", "config/federation-partners.json")
	v.SetDefault("federation.database_url", "")
	v.SetDefault("federation.request_interval", "500ms")
	v.SetDefault("federation.request_timeout", "10s")
	v.SetDefault("federation.poll_interval", "6h")

	v.SetDefault("monitor.interval", "15m")

	v.SetDefault("alert.emails", []string{})
	v.SetDefault("alert.smtp_host", "")
	v.SetDefault("alert.smtp_port", 587)
	v.SetDefault("alert.smtp_username", "")
	v.SetDefault("alert.smtp_password", "")
	v.SetDefault("alert.from_address", "govledger@localhost")
	v.SetDefault("alert.webhook_urls", []string{})
	v.SetDefault("alert.webhook_secret", "")
	v.SetDefault("alert.source_id", "")
}

// Load reads govledger.yaml (from file if set, else configs/ or the
// working directory), applies environment overrides such as SERVER_PORT
// and validates the result. A missing config file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("govledger")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		File: v.ConfigFileUsed(),
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			CORSOrigins:    v.GetStringSlice("server.cors_origins"),
			GRPCHealthPort: v.GetInt("server.grpc_health_port"),
		},
		Ledger: LedgerConfig{
			RootDir: v.GetString("ledger.root_dir"),
			Lock:    v.GetBool("ledger.lock"),
		},
		Signing: SigningConfig{
			Mode:              strings.ToLower(v.GetString("signing.mode")),
			Ed25519KeyFile:    v.GetString("signing.ed25519_key_file"),
			Ed25519PublicFile: v.GetString("signing.ed25519_public_file"),
			GPGKeyID:          v.GetString("signing.gpg_key_id"),
			GPGBinary:         v.GetString("signing.gpg_binary"),
			Timeout:           v.GetDuration("signing.timeout"),
			RequireSignatures: v.GetBool("signing.require_signatures"),
		},
		Trust: TrustConfig{
			Secret:          v.GetString("trust.secret"),
			Issuer:          v.GetString("trust.issuer"),
			ValidityDays:    v.GetInt("trust.validity_days"),
			GovernanceBlock: v.GetString("trust.governance_block"),
			ComplianceStage: v.GetString("trust.compliance_stage"),
			BaseURL:         v.GetString("trust.base_url"),
		},
		RateLimit: RateLimitConfig{
			Requests:        v.GetInt("ratelimit.requests"),
			Window:          v.GetDuration("ratelimit.window"),
			Backend:         strings.ToLower(v.GetString("ratelimit.backend")),
			RedisURL:        v.GetString("ratelimit.redis_url"),
			WebhookRequests: v.GetInt("ratelimit.webhook_requests"),
		},
		Federation: FederationConfig{
			APIKeyHash:      v.GetString("federation.api_key_hash"),
			RegistryFile:    v.GetString("federation.registry_file"),
			DatabaseURL:     v.GetString("federation.database_url"),
			RequestInterval: v.GetDuration("federation.request_interval"),
			RequestTimeout:  v.GetDuration("federation.request_timeout"),
			PollInterval:    v.GetDuration("federation.poll_interval"),
		},
		Monitor: MonitorConfig{
			Interval: v.GetDuration("monitor.interval"),
		},
		Alert: AlertConfig{
			Emails:        v.GetStringSlice("alert.emails"),
			SMTPHost:      v.GetString("alert.smtp_host"),
			SMTPPort:      v.GetInt("alert.smtp_port"),
			SMTPUsername:  v.GetString("alert.smtp_username"),
			SMTPPassword:  v.GetString("alert.smtp_password"),
			FromAddress:   v.GetString("alert.from_address"),
			WebhookURLs:   v.GetStringSlice("alert.webhook_urls"),
			WebhookSecret: v.GetString("alert.webhook_secret"),
			SourceID:      v.GetString("alert.source_id"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Signing.Mode {
	case SigningNone, SigningEd25519, SigningGPG:
	default:
		problems = append(problems, fmt.Sprintf("signing.mode %q must be none, ed25519 or gpg", c.Signing.Mode))
	}
	if c.Signing.Mode == SigningGPG && c.Signing.GPGBinary == "" {
		problems = append(problems, "signing.gpg_binary is required for gpg signing")
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			problems = append(problems, "ratelimit.redis_url is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("ratelimit.backend %q must be memory or redis", c.RateLimit.Backend))
	}
	if c.RateLimit.Requests < 1 || c.RateLimit.WebhookRequests < 1 || c.RateLimit.Window <= 0 {
		problems = append(problems, "ratelimit requests and window must be positive")
	}
	if c.Trust.ValidityDays < 1 {
		problems = append(problems, "trust.validity_days must be at least 1")
	}
	if c.Monitor.Interval <= 0 {
		problems = append(problems, "monitor.interval must be positive")
	}
	if len(c.Alert.WebhookURLs) > 0 && (c.Alert.SourceID == "" || len(c.Alert.WebhookSecret) < 16) {
		problems = append(problems, "alert.webhook_urls requires alert.source_id and an alert.webhook_secret of at least 16 characters")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// TrustValidity is the proof lifetime.
func (c *Config) TrustValidity() time.Duration {
	return time.Duration(c.Trust.ValidityDays) * 24 * time.Hour
}
