package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	Encryption EncryptionConfig
	Scheduler  SchedulerConfig
	Sync       SyncConfig
	TLS        TLSConfig
	Providers  ProvidersConfig
	Firebase   FirebaseConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
	HostURL      string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Migrate applies pending migrations on API startup.
	Migrate bool
}

type AuthConfig struct {
	JWTSecret  string
	CronSecret string
}

type EncryptionConfig struct {
	Key string
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	JobTimeout    time.Duration
	RunOnStartup  bool
}

// SyncConfig selects the poll-only providers and how far back a sync reaches
type SyncConfig struct {
	Providers []string
	Lookback  time.Duration
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type ProvidersConfig struct {
	Timeout       time.Duration
	RatePerSecond float64
	// RedirectURL is where connect flows send the user back to.
	RedirectURL   string
	SaltEdge      SaltEdgeConfig
	SnapTrade     SnapTradeConfig
	Vezgo         VezgoConfig
	EnableBanking EnableBankingConfig
	Teller        TellerConfig
}

type SaltEdgeConfig struct {
	AppID         string
	Secret        string
	PublicKeyPath string
	CallbackURL   string
}

func (c SaltEdgeConfig) Enabled() bool { return c.AppID != "" && c.Secret != "" }

type SnapTradeConfig struct {
	ClientID      string
	ConsumerKey   string
	WebhookSecret string
}

func (c SnapTradeConfig) Enabled() bool { return c.ClientID != "" && c.ConsumerKey != "" }

type VezgoConfig struct {
	ClientID string
	Secret   string
}

func (c VezgoConfig) Enabled() bool { return c.ClientID != "" && c.Secret != "" }

type EnableBankingConfig struct {
	AppID          string
	PrivateKeyPath string
}

func (c EnableBankingConfig) Enabled() bool { return c.AppID != "" && c.PrivateKeyPath != "" }

type TellerConfig struct {
	ApplicationID string
	CertPath      string
	KeyPath       string
	SigningSecret string
	Environment   string
}

func (c TellerConfig) Enabled() bool { return c.ApplicationID != "" }

type FirebaseConfig struct {
	CredentialsFile string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	MetricsPort  string
	Environment  string
}

// Load reads the environment, after merging in a .env file when one exists.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(getEnv("ENV_FILE", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	dbPort, err := getIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	schedulerWorkers, err := getIntEnv("SCHEDULER_WORKERS", 5)
	if err != nil {
		return nil, err
	}
	schedulerJobDelay, err := getDurationEnv("SCHEDULER_JOB_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := getIntEnv("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	schedulerJobTimeout, err := getDurationEnv("SCHEDULER_JOB_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	syncLookback, err := getDurationEnv("SYNC_LOOKBACK", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}

	providerTimeout, err := getDurationEnv("PROVIDER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	providerRate, err := getFloatEnv("PROVIDER_RATE_PER_SECOND", 5)
	if err != nil {
		return nil, err
	}

	hostURL := strings.TrimRight(getEnv("HOST_URL", ""), "/")

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: getListEnv("ALLOWED_HOSTS", ""),
			HostURL:      hostURL,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "finlink"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "finlink"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Migrate:  getBoolEnv("DB_MIGRATE", false),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			CronSecret: getEnv("CRON_SECRET", ""),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getBoolEnv("SCHEDULER_ENABLED", true),
			ScheduleTimes: getListEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00"),
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			QueueSize:     schedulerQueueSize,
			JobTimeout:    schedulerJobTimeout,
			RunOnStartup:  getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		Sync: SyncConfig{
			Providers: getListEnv("SYNC_PROVIDERS", "vezgo,enablebanking,teller"),
			Lookback:  syncLookback,
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Providers: ProvidersConfig{
			Timeout:       providerTimeout,
			RatePerSecond: providerRate,
			RedirectURL:   getEnv("CONNECT_REDIRECT_URL", ""),
			SaltEdge: SaltEdgeConfig{
				AppID:         getEnv("SALTEDGE_APP_ID", ""),
				Secret:        getEnv("SALTEDGE_SECRET", ""),
				PublicKeyPath: getEnv("SALTEDGE_PUBLIC_KEY_PATH", ""),
				CallbackURL:   getEnv("SALTEDGE_CALLBACK_URL", callbackURL(hostURL, "saltedge")),
			},
			SnapTrade: SnapTradeConfig{
				ClientID:      getEnv("SNAPTRADE_CLIENT_ID", ""),
				ConsumerKey:   getEnv("SNAPTRADE_CONSUMER_KEY", ""),
				WebhookSecret: getEnv("SNAPTRADE_WEBHOOK_SECRET", ""),
			},
			Vezgo: VezgoConfig{
				ClientID: getEnv("VEZGO_CLIENT_ID", ""),
				Secret:   getEnv("VEZGO_SECRET", ""),
			},
			EnableBanking: EnableBankingConfig{
				AppID:          getEnv("ENABLEBANKING_APP_ID", ""),
				PrivateKeyPath: getEnv("ENABLEBANKING_PRIVATE_KEY_PATH", ""),
			},
			Teller: TellerConfig{
				ApplicationID: getEnv("TELLER_APPLICATION_ID", ""),
				CertPath:      getEnv("TELLER_CERT_PATH", ""),
				KeyPath:       getEnv("TELLER_KEY_PATH", ""),
				SigningSecret: getEnv("TELLER_SIGNING_SECRET", ""),
				Environment:   getEnv("TELLER_ENVIRONMENT", "sandbox"),
			},
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "finlink-api"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Auth.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required")
	}
	if c.Encryption.Key == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(c.Encryption.Key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes")
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	for _, hhmm := range c.Scheduler.ScheduleTimes {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return fmt.Errorf("invalid SCHEDULER_TIMES entry %q", hhmm)
		}
	}
	if c.Scheduler.WorkerCount < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
	}

	if t := c.Providers.Teller; t.Enabled() && (t.CertPath == "") != (t.KeyPath == "") {
		return fmt.Errorf("TELLER_CERT_PATH and TELLER_KEY_PATH must be set together")
	}
	return nil
}

// EnabledProviders lists the providers whose credentials are configured
func (c *Config) EnabledProviders() []string {
	var names []string
	p := c.Providers
	if p.SaltEdge.Enabled() {
		names = append(names, "saltedge")
	}
	if p.SnapTrade.Enabled() {
		names = append(names, "snaptrade")
	}
	if p.Vezgo.Enabled() {
		names = append(names, "vezgo")
	}
	if p.EnableBanking.Enabled() {
		names = append(names, "enablebanking")
	}
	if p.Teller.Enabled() {
		names = append(names, "teller")
	}
	return names
}

// ConnectionString builds a lib/pq keyword/value DSN
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, quoteDSN(c.Password), c.DBName, c.SSLMode,
	)
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

func callbackURL(hostURL, provider string) string {
	if hostURL == "" {
		return ""
	}
	return hostURL + "/callback/providers/" + provider
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getListEnv splits a comma-separated variable, dropping blanks
func getListEnv(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
