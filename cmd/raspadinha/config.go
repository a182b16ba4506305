package main

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/raspadinha/raspadinha/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultMetricsAddr  = "localhost:9090"
	defaultLoggingLevel = logger.LevelInfo
	defaultGatewayAddr  = "https://api.plinqpay.com"
	defaultEnvironment  = logger.EnvProduction
	defaultPollInterval = 15 * time.Second
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Address of the /metrics and /healthz side listener
	MetricsAddr string

	// Payment gateway base URL and credentials
	GatewayAddr   string
	GatewayAPIKey string

	// Public URL the provider calls back on paid references
	CallbackURL string

	// Database to connect to
	DatabaseDSN string

	// Redis used for live balance fanout between instances
	RedisAddr string

	// Secret key shared with the auth service that signs access tokens
	SecretKey string

	// Pre-shared secret the provider signs webhook bodies with
	WebhookSecret string

	// bcrypt hash of the operator token for manual approval endpoints
	// Empty disables the admin endpoints entirely
	AdminTokenHash string

	// Interval the reconciliation poller lists pending deposits on
	PollInterval time.Duration

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:     defaultLoggingLevel,
		ListenAddr:   defaultListenAddr,
		MetricsAddr:  defaultMetricsAddr,
		GatewayAddr:  defaultGatewayAddr,
		PollInterval: defaultPollInterval,
		Environment:  defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if value == "" {
				return
			}
			if d, err := time.ParseDuration(value); err == nil {
				*o = d
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":      setString(&c.ListenAddr),
		"METRICS_ADDRESS":  setString(&c.MetricsAddr),
		"DATABASE_URI":     setString(&c.DatabaseDSN),
		"REDIS_ADDRESS":    setString(&c.RedisAddr),
		"SECRET_KEY":       setString(&c.SecretKey),
		"WEBHOOK_SECRET":   setString(&c.WebhookSecret),
		"GATEWAY_ADDRESS":  setString(&c.GatewayAddr),
		"GATEWAY_API_KEY":  setString(&c.GatewayAPIKey),
		"CALLBACK_URL":     setString(&c.CallbackURL),
		"ADMIN_TOKEN_HASH": setString(&c.AdminTokenHash),
		"POLL_INTERVAL":    setDuration(&c.PollInterval),
		"LOG_LEVEL":        setString(&c.LogLevel),
		"ENVIRONMENT":      setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("raspadinha", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVar(&c.MetricsAddr, "metrics-address", c.MetricsAddr, "Metrics listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for live balance fanout")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key access tokens are signed with")
	fs.StringVarP(&c.WebhookSecret, "webhook-secret", "w", c.WebhookSecret, "Secret the provider signs webhooks with")
	fs.StringVarP(&c.GatewayAddr, "gateway", "g", c.GatewayAddr, "Payment gateway base URL")
	fs.StringVar(&c.GatewayAPIKey, "gateway-api-key", c.GatewayAPIKey, "Payment gateway API key")
	fs.StringVar(&c.CallbackURL, "callback-url", c.CallbackURL, "Webhook URL the provider calls back on")
	fs.StringVar(&c.AdminTokenHash, "admin-token-hash", c.AdminTokenHash, "bcrypt hash of the operator token")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "Reconciliation poll interval")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}
