package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "BOUNTYBOARD"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DriverSQLite
	defaultDatabasePath    = "bountyboard.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultCookieName      = "app_session"
	defaultIssuer          = "bountyboard"
	defaultTokenTTLMinutes = 60
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
	Auth           AuthConfig
	Registry       RegistryConfig
}

// AuthConfig configures session token validation and issuance.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
	CookieName    string
	TokenTTL      time.Duration
}

// RegistryConfig configures the ledger identities and its policy switches.
type RegistryConfig struct {
	Operator                      string
	EscrowAccount                 string
	AllowAnswersAfterResolution   bool
	DownvotePenalty               bool
	AllowQuestionsInDeletedForums bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("registry.operator", "")
	configViper.SetDefault("registry.escrow_account", "")
	configViper.SetDefault("registry.allow_answers_after_resolution", false)
	configViper.SetDefault("registry.downvote_penalty", false)
	configViper.SetDefault("registry.allow_questions_in_deleted_forums", false)
	configViper.SetDefault("metrics.enabled", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
		MetricsEnabled: configViper.GetBool("metrics.enabled"),
		Auth: AuthConfig{
			SigningSecret: configViper.GetString("auth.signing_secret"),
			Issuer:        configViper.GetString("auth.issuer"),
			CookieName:    configViper.GetString("auth.cookie_name"),
			TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		},
		Registry: RegistryConfig{
			Operator:                      strings.TrimSpace(configViper.GetString("registry.operator")),
			EscrowAccount:                 strings.TrimSpace(configViper.GetString("registry.escrow_account")),
			AllowAnswersAfterResolution:   configViper.GetBool("registry.allow_answers_after_resolution"),
			DownvotePenalty:               configViper.GetBool("registry.downvote_penalty"),
			AllowQuestionsInDeletedForums: configViper.GetBool("registry.allow_questions_in_deleted_forums"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.Registry.Operator == "" {
		return fmt.Errorf("registry.operator is required")
	}
	if c.Registry.EscrowAccount == "" {
		return fmt.Errorf("registry.escrow_account is required")
	}
	return nil
}
