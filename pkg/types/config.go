package types

import "time"

// Mode constants for gateway operation
const (
	ModeLocal  = "local"  // No Redis/Postgres, in-process stores
	ModeRemote = "remote" // Full infrastructure
)

// AppConfig is the root configuration for the synopsis gateway
type AppConfig struct {
	Mode       string `key:"mode" json:"mode"` // "local" or "remote"
	DebugMode  bool   `key:"debugMode" json:"debug_mode"`
	PrettyLogs bool   `key:"prettyLogs" json:"pretty_logs"`

	Database   DatabaseConfig   `key:"database" json:"database"`
	Gateway    GatewayConfig    `key:"gateway" json:"gateway"`
	Mailbox    MailboxConfig    `key:"mailbox" json:"mailbox"`
	LLM        LLMConfig        `key:"llm" json:"llm"`
	Synopsis   SynopsisConfig   `key:"synopsis" json:"synopsis"`
	Scheduler  SchedulerConfig  `key:"scheduler" json:"scheduler"`
	Queue      QueueConfig      `key:"queue" json:"queue"`
	Encryption EncryptionConfig `key:"encryption" json:"encryption"`
	Auth       AuthConfig       `key:"auth" json:"auth"`
}

// IsLocalMode returns true if running in local mode (no Redis/Postgres)
func (c *AppConfig) IsLocalMode() bool {
	return c.Mode == ModeLocal
}

// ----------------------------------------------------------------------------
// Database Configuration
// ----------------------------------------------------------------------------

// StoreBackend selects the document store implementation
type StoreBackend string

const (
	StoreBackendMemory   StoreBackend = "memory"
	StoreBackendRedis    StoreBackend = "redis"
	StoreBackendPostgres StoreBackend = "postgres"
	StoreBackendSQLite   StoreBackend = "sqlite"
)

type DatabaseConfig struct {
	Backend      StoreBackend   `key:"backend" json:"backend"`
	ExistsCache  int            `key:"existsCache" json:"exists_cache"` // LRU entries, 0 disables
	Redis        RedisConfig    `key:"redis" json:"redis"`
	Postgres     PostgresConfig `key:"postgres" json:"postgres"`
	SQLite       SQLiteConfig   `key:"sqlite" json:"sqlite"`
	QueueJournal bool           `key:"queueJournal" json:"queue_journal"` // mirror the background queue into redis
}

type RedisMode string

const (
	RedisModeSingle  RedisMode = "single"
	RedisModeCluster RedisMode = "cluster"
)

type RedisConfig struct {
	Mode               RedisMode     `key:"mode" json:"mode"`
	Addrs              []string      `key:"addrs" json:"addrs"`
	Username           string        `key:"username" json:"username"`
	Password           string        `key:"password" json:"password"`
	ClientName         string        `key:"clientName" json:"client_name"`
	EnableTLS          bool          `key:"enableTLS" json:"enable_tls"`
	InsecureSkipVerify bool          `key:"insecureSkipVerify" json:"insecure_skip_verify"`
	PoolSize           int           `key:"poolSize" json:"pool_size"`
	MinIdleConns       int           `key:"minIdleConns" json:"min_idle_conns"`
	MaxIdleConns       int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxIdleTime    time.Duration `key:"connMaxIdleTime" json:"conn_max_idle_time"`
	ConnMaxLifetime    time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
	DialTimeout        time.Duration `key:"dialTimeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `key:"readTimeout" json:"read_timeout"`
	WriteTimeout       time.Duration `key:"writeTimeout" json:"write_timeout"`
	MaxRedirects       int           `key:"maxRedirects" json:"max_redirects"`
	MaxRetries         int           `key:"maxRetries" json:"max_retries"`
	RouteByLatency     bool          `key:"routeByLatency" json:"route_by_latency"`
}

type PostgresConfig struct {
	Host            string        `key:"host" json:"host"`
	Port            int           `key:"port" json:"port"`
	User            string        `key:"user" json:"user"`
	Password        string        `key:"password" json:"password"`
	Database        string        `key:"database" json:"database"`
	SSLMode         string        `key:"sslMode" json:"ssl_mode"`
	MaxOpenConns    int           `key:"maxOpenConns" json:"max_open_conns"`
	MaxIdleConns    int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
}

type SQLiteConfig struct {
	Path string `key:"path" json:"path"` // ":memory:" for an ephemeral database
}

// ----------------------------------------------------------------------------
// Gateway Configuration
// ----------------------------------------------------------------------------

type GatewayConfig struct {
	HTTP            HTTPConfig    `key:"http" json:"http"`
	ShutdownTimeout time.Duration `key:"shutdownTimeout" json:"shutdown_timeout"`
}

type HTTPConfig struct {
	Host             string     `key:"host" json:"host"`
	Port             int        `key:"port" json:"port"`
	EnablePrettyLogs bool       `key:"enablePrettyLogs" json:"enable_pretty_logs"`
	CORS             CORSConfig `key:"cors" json:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `key:"allowOrigins" json:"allow_origins"`
	AllowedMethods []string `key:"allowMethods" json:"allow_methods"`
	AllowedHeaders []string `key:"allowHeaders" json:"allow_headers"`
}

// ----------------------------------------------------------------------------
// Pipeline Configuration
// ----------------------------------------------------------------------------

// MailboxConfig configures the Gmail client and the adaptive fetch pool
type MailboxConfig struct {
	Endpoint         string        `key:"endpoint" json:"endpoint"` // empty uses the public Gmail endpoint
	UserId           string        `key:"userId" json:"user_id"`
	DefaultPageSize  int64         `key:"defaultPageSize" json:"default_page_size"`
	MaxRetries       int           `key:"maxRetries" json:"max_retries"`
	RetryBaseDelay   time.Duration `key:"retryBaseDelay" json:"retry_base_delay"`
	RetryMaxDelay    time.Duration `key:"retryMaxDelay" json:"retry_max_delay"`
	FetchConcurrency int           `key:"fetchConcurrency" json:"fetch_concurrency"`
	MinConcurrency   int           `key:"minConcurrency" json:"min_concurrency"`
	SuccessesToGrow  int           `key:"successesToGrow" json:"successes_to_grow"`
	MaxRequeues      int           `key:"maxRequeues" json:"max_requeues"`
	RequestTimeout   time.Duration `key:"requestTimeout" json:"request_timeout"`
}

// LLMConfig configures the generative language endpoint
type LLMConfig struct {
	BaseURL         string        `key:"baseURL" json:"base_url"`
	APIKey          string        `key:"apiKey" json:"api_key"`
	Model           string        `key:"model" json:"model"`
	Temperature     float64       `key:"temperature" json:"temperature"`
	MaxOutputTokens int           `key:"maxOutputTokens" json:"max_output_tokens"`
	RequestTimeout  time.Duration `key:"requestTimeout" json:"request_timeout"`
}

// SynopsisConfig configures prompt construction and response limits
type SynopsisConfig struct {
	MaxInputTokens   int `key:"maxInputTokens" json:"max_input_tokens"`
	CharsPerToken    int `key:"charsPerToken" json:"chars_per_token"`
	MaxBodyChars     int `key:"maxBodyChars" json:"max_body_chars"`
	RawLogTruncation int `key:"rawLogTruncation" json:"raw_log_truncation"`
}

// SchedulerConfig configures the adaptive batch scheduler
type SchedulerConfig struct {
	Concurrency       int           `key:"concurrency" json:"concurrency"`
	InlineThreshold   int           `key:"inlineThreshold" json:"inline_threshold"`
	BaseGroupDelay    time.Duration `key:"baseGroupDelay" json:"base_group_delay"`
	BaseItemDelay     time.Duration `key:"baseItemDelay" json:"base_item_delay"`
	MaxGroupDelay     time.Duration `key:"maxGroupDelay" json:"max_group_delay"`
	MaxItemDelay      time.Duration `key:"maxItemDelay" json:"max_item_delay"`
	BackoffMultiplier float64       `key:"backoffMultiplier" json:"backoff_multiplier"`
}

// QueueConfig configures the background queue
type QueueConfig struct {
	Capacity          int           `key:"capacity" json:"capacity"`
	BatchSize         int           `key:"batchSize" json:"batch_size"`
	MaxRetries        int           `key:"maxRetries" json:"max_retries"`
	DrainInterval     time.Duration `key:"drainInterval" json:"drain_interval"`
	StatsInterval     time.Duration `key:"statsInterval" json:"stats_interval"`
	RetryBaseDelay    time.Duration `key:"retryBaseDelay" json:"retry_base_delay"`
	MaxRetryDelay     time.Duration `key:"maxRetryDelay" json:"max_retry_delay"`
	RateLimitMinDelay time.Duration `key:"rateLimitMinDelay" json:"rate_limit_min_delay"`
	HighPriorityAge   time.Duration `key:"highPriorityAge" json:"high_priority_age"`
	MediumPriorityAge time.Duration `key:"mediumPriorityAge" json:"medium_priority_age"`
}

// EncryptionConfig holds the secret that field keys are derived from
type EncryptionConfig struct {
	Secret string `key:"secret" json:"secret"`
	Salt   string `key:"salt" json:"salt"`
}

// AuthConfig configures session validation and mailbox OAuth refresh
type AuthConfig struct {
	SessionSecret      string        `key:"sessionSecret" json:"session_secret"`
	SessionTTL         time.Duration `key:"sessionTTL" json:"session_ttl"`
	Issuer             string        `key:"issuer" json:"issuer"`
	IngestLockTTL      time.Duration `key:"ingestLockTTL" json:"ingest_lock_ttl"`
	GoogleClientId     string        `key:"googleClientId" json:"google_client_id"`
	GoogleClientSecret string        `key:"googleClientSecret" json:"google_client_secret"`
	GoogleRedirectURL  string        `key:"googleRedirectURL" json:"google_redirect_url"`
}
