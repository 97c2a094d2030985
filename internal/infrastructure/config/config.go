package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Security     SecurityConfig
	Credentials  CredentialsConfig
	Webhook      WebhookConfig
	Sync         SyncConfig
	Marketplaces map[string]MarketplaceConfig
	Storage      StorageConfig
	Telemetry    TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port for go-redis
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds settings for verifying bearer tokens on the connections API.
// Tokens are issued by the account service; this service only verifies them.
type JWTConfig struct {
	Secret string
	Issuer string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSAllowOrigins  []string
	TrustedProxies    []string
}

// SecurityConfig holds credential encryption settings
type SecurityConfig struct {
	MasterSecret       string
	PerMarketplaceKeys bool
}

// CredentialsConfig holds token lifecycle settings
type CredentialsConfig struct {
	RefreshBuffer time.Duration // refresh when less than this remains
}

// Rate limit backends for the unsigned webhook provider
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// WebhookConfig holds webhook ingestion settings
type WebhookConfig struct {
	CallbackBaseURL    string
	MaxBodyBytes       int64
	RateLimitBackend   string // memory or redis
	RateLimitPerMinute int
	HashCustomerEmail  bool
	StateTTL           time.Duration // lifetime of OAuth state + PKCE verifier
}

// SyncConfig holds reconciliation scheduler settings
type SyncConfig struct {
	Enabled            bool
	ReconcileSchedule  string
	DedupPurgeSchedule string
	DedupRetention     time.Duration
	BackstopInterval   time.Duration
	ShardCount         int
	SlotLength         time.Duration
	MaxPerRun          int
	TimeBudget         time.Duration
	UnitTimeout        time.Duration
	Concurrency        int
}

// MarketplaceConfig holds one provider's app credentials and endpoints
type MarketplaceConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	// WebhookSigningKey verifies app-scoped webhooks when the provider does not sign with the client secret (Square)
	WebhookSigningKey string
	APIBaseURL        string
	AuthBaseURL       string
	Scopes            []string
	Timeout           time.Duration
	APIVersion        string
	MaxRetries        int
}

// StorageConfig holds S3-compatible payload archive settings
type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	Prefix       string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// marketplaceKeys are the config sub-tables read under [marketplaces.*]
var marketplaceKeys = []string{"shopify", "bigcommerce", "etsy", "square", "woocommerce"}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with MARKETSYNC_ prefix (e.g., MARKETSYNC_SECURITY_MASTER_SECRET)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	return loadFrom(v)
}

// loadFrom builds the config from a prepared viper instance
func loadFrom(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("MARKETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults for booleans that are true unless switched off
	v.SetDefault("security.per_marketplace_keys", true)
	v.SetDefault("webhook.hash_customer_email", true)
	v.SetDefault("sync.enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
		},
		Security: SecurityConfig{
			MasterSecret:       v.GetString("security.master_secret"),
			PerMarketplaceKeys: v.GetBool("security.per_marketplace_keys"),
		},
		Credentials: CredentialsConfig{
			RefreshBuffer: v.GetDuration("credentials.refresh_buffer"),
		},
		Webhook: WebhookConfig{
			CallbackBaseURL:    v.GetString("webhook.callback_base_url"),
			MaxBodyBytes:       v.GetInt64("webhook.max_body_bytes"),
			RateLimitBackend:   v.GetString("webhook.rate_limit_backend"),
			RateLimitPerMinute: v.GetInt("webhook.rate_limit_per_minute"),
			HashCustomerEmail:  v.GetBool("webhook.hash_customer_email"),
			StateTTL:           v.GetDuration("webhook.state_ttl"),
		},
		Sync: SyncConfig{
			Enabled:            v.GetBool("sync.enabled"),
			ReconcileSchedule:  v.GetString("sync.reconcile_schedule"),
			DedupPurgeSchedule: v.GetString("sync.dedup_purge_schedule"),
			DedupRetention:     v.GetDuration("sync.dedup_retention"),
			BackstopInterval:   v.GetDuration("sync.backstop_interval"),
			ShardCount:         v.GetInt("sync.shard_count"),
			SlotLength:         v.GetDuration("sync.slot_length"),
			MaxPerRun:          v.GetInt("sync.max_per_run"),
			TimeBudget:         v.GetDuration("sync.time_budget"),
			UnitTimeout:        v.GetDuration("sync.unit_timeout"),
			Concurrency:        v.GetInt("sync.concurrency"),
		},
		Marketplaces: make(map[string]MarketplaceConfig, len(marketplaceKeys)),
		Storage: StorageConfig{
			Enabled:      v.GetBool("storage.enabled"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			Prefix:       v.GetString("storage.prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	for _, name := range marketplaceKeys {
		prefix := "marketplaces." + name + "."
		cfg.Marketplaces[name] = MarketplaceConfig{
			Enabled:           v.GetBool(prefix + "enabled"),
			ClientID:          v.GetString(prefix + "client_id"),
			ClientSecret:      v.GetString(prefix + "client_secret"),
			WebhookSigningKey: v.GetString(prefix + "webhook_signing_key"),
			APIBaseURL:        v.GetString(prefix + "api_base_url"),
			AuthBaseURL:       v.GetString(prefix + "auth_base_url"),
			Scopes:            v.GetStringSlice(prefix + "scopes"),
			Timeout:           v.GetDuration(prefix + "timeout"),
			APIVersion:        v.GetString(prefix + "api_version"),
			MaxRetries:        v.GetInt(prefix + "max_retries"),
		}
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "marketsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "marketsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "marketsync"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 100
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.Credentials.RefreshBuffer == 0 {
		cfg.Credentials.RefreshBuffer = 10 * time.Minute
	}
	if cfg.Webhook.CallbackBaseURL == "" {
		cfg.Webhook.CallbackBaseURL = "http://localhost:8080"
	}
	cfg.Webhook.CallbackBaseURL = strings.TrimRight(cfg.Webhook.CallbackBaseURL, "/")
	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = 1 << 20 // 1MiB
	}
	if cfg.Webhook.RateLimitBackend == "" {
		cfg.Webhook.RateLimitBackend = RateLimitBackendMemory
	}
	if cfg.Webhook.RateLimitPerMinute == 0 {
		cfg.Webhook.RateLimitPerMinute = 120
	}
	if cfg.Webhook.StateTTL == 0 {
		cfg.Webhook.StateTTL = 10 * time.Minute
	}
	if cfg.Sync.ReconcileSchedule == "" {
		cfg.Sync.ReconcileSchedule = "*/5 * * * *"
	}
	if cfg.Sync.DedupPurgeSchedule == "" {
		cfg.Sync.DedupPurgeSchedule = "@hourly"
	}
	if cfg.Sync.DedupRetention == 0 {
		cfg.Sync.DedupRetention = 720 * time.Hour // 30 days
	}
	if cfg.Sync.BackstopInterval == 0 {
		cfg.Sync.BackstopInterval = 6 * time.Hour
	}
	if cfg.Sync.ShardCount == 0 {
		cfg.Sync.ShardCount = 12
	}
	if cfg.Sync.SlotLength == 0 {
		cfg.Sync.SlotLength = 5 * time.Minute
	}
	if cfg.Sync.MaxPerRun == 0 {
		cfg.Sync.MaxPerRun = 200
	}
	if cfg.Sync.TimeBudget == 0 {
		cfg.Sync.TimeBudget = 4 * time.Minute
	}
	if cfg.Sync.UnitTimeout == 0 {
		cfg.Sync.UnitTimeout = 60 * time.Second
	}
	if cfg.Sync.Concurrency == 0 {
		cfg.Sync.Concurrency = 4
	}
	for name, mc := range cfg.Marketplaces {
		if mc.Timeout == 0 {
			mc.Timeout = 15 * time.Second
		}
		if mc.MaxRetries == 0 {
			mc.MaxRetries = 2
		}
		cfg.Marketplaces[name] = mc
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "webhook-payloads"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "marketsync"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Webhook.RateLimitBackend != RateLimitBackendMemory && c.Webhook.RateLimitBackend != RateLimitBackendRedis {
		return fmt.Errorf("webhook.rate_limit_backend must be %q or %q, got %q",
			RateLimitBackendMemory, RateLimitBackendRedis, c.Webhook.RateLimitBackend)
	}
	if _, err := url.ParseRequestURI(c.Webhook.CallbackBaseURL); err != nil {
		return fmt.Errorf("webhook.callback_base_url is not a valid URL: %w", err)
	}
	if c.Sync.ShardCount <= 0 {
		return fmt.Errorf("sync.shard_count must be positive")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be positive")
	}
	if c.Sync.UnitTimeout > c.Sync.TimeBudget {
		return fmt.Errorf("sync.unit_timeout (%s) cannot exceed sync.time_budget (%s)", c.Sync.UnitTimeout, c.Sync.TimeBudget)
	}

	for name, mc := range c.Marketplaces {
		if mc.Enabled && (mc.ClientID == "" || mc.ClientSecret == "") && name != "woocommerce" {
			return fmt.Errorf("marketplaces.%s requires client_id and client_secret when enabled", name)
		}
		if mc.Enabled && name == "square" && mc.WebhookSigningKey == "" {
			return fmt.Errorf("marketplaces.square requires webhook_signing_key when enabled")
		}
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Security.MasterSecret == "" {
			return fmt.Errorf("security.master_secret is required in production")
		}
		if len(c.Security.MasterSecret) < 32 {
			return fmt.Errorf("security.master_secret must be at least 32 characters in production")
		}
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if !strings.HasPrefix(c.Webhook.CallbackBaseURL, "https://") {
			return fmt.Errorf("webhook.callback_base_url must use https in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// Marketplace returns the settings for one provider by its lower-case config key
func (c *Config) Marketplace(name string) (MarketplaceConfig, bool) {
	mc, ok := c.Marketplaces[strings.ToLower(name)]
	return mc, ok && mc.Enabled
}

// WebhookSecret returns the key app-scoped webhooks are signed with
func (m MarketplaceConfig) WebhookSecret() string {
	if m.WebhookSigningKey != "" {
		return m.WebhookSigningKey
	}
	return m.ClientSecret
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// WebhookURL is the public endpoint a marketplace delivers webhooks to
func (w WebhookConfig) WebhookURL(marketplace string) string {
	return w.CallbackBaseURL + "/webhooks/" + strings.ToLower(marketplace)
}

// OAuthRedirectURL is the public OAuth callback registered with a marketplace app
func (w WebhookConfig) OAuthRedirectURL(marketplace string) string {
	return w.CallbackBaseURL + "/oauth/" + strings.ToLower(marketplace) + "/callback"
}
