package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config represents the application configuration structure.
// It contains settings for the environment, HTTP server, database connection,
// the verdict pipeline and its upstream sources, and graceful shutdown
// behavior.
type Config struct {
	// Environment specifies the current running environment (development, production, etc.)
	Environment string `env:"ENVIRONMENT" env-default:"development" yaml:"environment"`

	// HTTP contains all HTTP server related configurations
	HTTP struct {
		// Addr is the address and port the HTTP server will listen on
		Addr string `env:"HTTP_ADDR" env-default:":8080" yaml:"addr"`
		// ReadTimeout is the maximum duration for reading the entire request, including the body
		ReadTimeout time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"1m" yaml:"readTimeout"`
		// ReadHeaderTimeout is the amount of time allowed to read request headers
		ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" env-default:"10s" yaml:"readHeaderTimeout"`
		// WriteTimeout is the maximum duration before timing out writes of the response
		WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"2m" yaml:"writeTimeout"`
		// IdleTimeout is the maximum amount of time to wait for the next request when keep-alives are enabled
		IdleTimeout time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"2m" yaml:"idleTimeout"`
		// RequestTimeout is the maximum time allowed for processing a single request
		RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" env-default:"10s" yaml:"requestTimeout"`
		// MaxHeaderBytes controls the maximum number of bytes the server will read parsing the request header
		MaxHeaderBytes int `env:"HTTP_MAX_HEADER_BYTES" env-default:"0" yaml:"maxHeaderBytes"`
		// MetricsPath defines the URL path where metrics are exposed
		MetricsPath string `env:"HTTP_METRICS_PATH" env-default:"/metrics" yaml:"metricsPath"`
	} `yaml:"http"`

	// Database contains all database connection related configurations
	Database struct {
		// Username for database authentication
		Username string `env:"DATABASE_USERNAME" env-default:"myuser" yaml:"username"`
		// Password for database authentication
		Password string `env:"DATABASE_PASSWORD" env-default:"mypassword" yaml:"password"`
		// Host is the database server hostname or IP address
		Host string `env:"DATABASE_HOST" env-default:"localhost" yaml:"host"`
		// Port is the database server port number
		Port int `env:"DATABASE_PORT" env-default:"5432" yaml:"port"`
		// SslMode defines the SSL mode for the database connection
		SslMode string `env:"DATABASE_SSL_MODE" env-default:"disable" yaml:"sslMode"`
		// DatabaseName is the name of the database to connect to
		DatabaseName string `env:"DATABASE_NAME" env-default:"wbscanner" yaml:"name"`
		// MaxOpenConnections limits the number of open connections to the database
		MaxOpenConnections int `env:"DATABASE_MAX_OPEN_CONNECTIONS" env-default:"10" yaml:"maxOpenConnections"`
		// MaxIdleConnections limits the number of connections in the idle connection pool
		MaxIdleConnections int `env:"DATABASE_MAX_IDLE_CONNECTIONS" env-default:"8" yaml:"maxIdleConnections"`
		// ConnMaxLifetime is the maximum amount of time a connection may be reused
		ConnMaxLifetime time.Duration `env:"DATABASE_CONNECTION_MAX_LIFETIME" env-default:"3m" yaml:"connMaxLifetime"`
		// ConnMaxIdleTime is the maximum amount of time a connection may be idle
		ConnMaxIdleTime time.Duration `env:"DATABASE_CONNECTION_MAX_IDLE_TIME" env-default:"3m" yaml:"connMaxIdleTime"`
	} `yaml:"database"`

	// Scanner groups the verdict pipeline knobs: hashing, resolution limits
	// and processing concurrency.
	Scanner struct {
		// HashKey is the secret key for the HMAC url hash. Deployments must
		// set their own value; hashes are not portable across keys.
		HashKey string `env:"SCANNER_HASH_KEY" env-default:"dev-only-hash-key" yaml:"hashKey"`
		// MaxRedirects bounds the redirect chain during direct resolution
		MaxRedirects int `env:"SCANNER_MAX_REDIRECTS" env-default:"5" yaml:"maxRedirects"`
		// HopTimeout is the per-call timeout for each outbound resolution request
		HopTimeout time.Duration `env:"SCANNER_HOP_TIMEOUT" env-default:"4s" yaml:"hopTimeout"`
		// MaxContentLength rejects responses whose declared body exceeds this many bytes
		MaxContentLength int64 `env:"SCANNER_MAX_CONTENT_LENGTH" env-default:"5242880" yaml:"maxContentLength"`
		// FeedDir is the directory holding local blocklist feed files; empty disables local feeds
		FeedDir string `env:"SCANNER_FEED_DIR" env-default:"" yaml:"feedDir"`
		// WorkerCount is the number of concurrent scan job workers
		WorkerCount int `env:"SCANNER_WORKER_COUNT" env-default:"10" yaml:"workerCount"`
		// MaxAttempts is the number of processing attempts before a scan is marked failed
		MaxAttempts int `env:"SCANNER_MAX_ATTEMPTS" env-default:"3" yaml:"maxAttempts"`
		// JobTimeout bounds one full pipeline run for a single scan job
		JobTimeout time.Duration `env:"SCANNER_JOB_TIMEOUT" env-default:"1m" yaml:"jobTimeout"`
	} `yaml:"scanner"`

	// Expansion configures the dedicated link-expansion service used for
	// known shorteners before falling back to direct resolution.
	Expansion struct {
		// Enabled toggles the expansion service; when false resolution goes direct
		Enabled bool `env:"EXPANSION_ENABLED" env-default:"true" yaml:"enabled"`
		// Endpoint is the base URL of the expansion API
		Endpoint string `env:"EXPANSION_ENDPOINT" env-default:"https://unshorten.me/json" yaml:"endpoint"`
		// Retries is the number of extra attempts after a failed expansion call
		Retries int `env:"EXPANSION_RETRIES" env-default:"1" yaml:"retries"`
	} `yaml:"expansion"`

	// Gsb configures the Google Safe Browsing primary blocklist source.
	Gsb struct {
		// APIKey authenticates lookups; empty disables live lookups
		APIKey string `env:"GSB_API_KEY" env-default:"" yaml:"apiKey"`
		// CacheTTL is how long lookup results are cached
		CacheTTL time.Duration `env:"GSB_CACHE_TTL" env-default:"1h" yaml:"cacheTtl"`
		// Reservoir is the rate-limit token bucket capacity
		Reservoir int `env:"GSB_RESERVOIR" env-default:"100" yaml:"reservoir"`
		// RefillAmount tokens are restored every RefillInterval
		RefillAmount int `env:"GSB_REFILL_AMOUNT" env-default:"100" yaml:"refillAmount"`
		// RefillInterval is the reservoir refill period
		RefillInterval time.Duration `env:"GSB_REFILL_INTERVAL" env-default:"1m" yaml:"refillInterval"`
	} `yaml:"gsb"`

	// Phishtank configures the secondary blocklist source consulted by the
	// cost-aware fallback policy.
	Phishtank struct {
		// Enabled toggles the secondary source entirely
		Enabled bool `env:"PHISHTANK_ENABLED" env-default:"true" yaml:"enabled"`
		// AppKey authenticates lookups; the source still works anonymously without one
		AppKey string `env:"PHISHTANK_APP_KEY" env-default:"" yaml:"appKey"`
		// FallbackLatency is the primary-latency budget above which the
		// secondary is consulted even after a clean primary answer
		FallbackLatency time.Duration `env:"PHISHTANK_FALLBACK_LATENCY" env-default:"1200ms" yaml:"fallbackLatency"`
		// CacheTTL is how long lookup results are cached
		CacheTTL time.Duration `env:"PHISHTANK_CACHE_TTL" env-default:"1h" yaml:"cacheTtl"`
		// Reservoir is the rate-limit token bucket capacity
		Reservoir int `env:"PHISHTANK_RESERVOIR" env-default:"20" yaml:"reservoir"`
		// RefillAmount tokens are restored every RefillInterval
		RefillAmount int `env:"PHISHTANK_REFILL_AMOUNT" env-default:"20" yaml:"refillAmount"`
		// RefillInterval is the reservoir refill period
		RefillInterval time.Duration `env:"PHISHTANK_REFILL_INTERVAL" env-default:"5m" yaml:"refillInterval"`
		// Jitter spreads lookups after refill boundaries to avoid synchronized bursts
		Jitter time.Duration `env:"PHISHTANK_JITTER" env-default:"500ms" yaml:"jitter"`
	} `yaml:"phishtank"`

	// Artifacts configures retrieval of scan artifacts (screenshot, DOM
	// snapshot) from the trusted scan provider.
	Artifacts struct {
		// Enabled toggles artifact retrieval
		Enabled bool `env:"ARTIFACTS_ENABLED" env-default:"false" yaml:"enabled"`
		// BaseURL is the provider base used to build default artifact
		// locations; its host is the only host artifacts may be fetched from
		BaseURL string `env:"ARTIFACTS_BASE_URL" env-default:"https://urlscan.io" yaml:"baseUrl"`
		// Dir is the local directory artifacts are written under
		Dir string `env:"ARTIFACTS_DIR" env-default:"/var/lib/wbscanner/artifacts" yaml:"dir"`
		// FetchTimeout bounds each artifact download
		FetchTimeout time.Duration `env:"ARTIFACTS_FETCH_TIMEOUT" env-default:"10s" yaml:"fetchTimeout"`
	} `yaml:"artifacts"`

	// GracefulShutdownTimeout is the maximum duration to wait for ongoing requests to complete during shutdown
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_TIMEOUT" env-default:"10s" yaml:"gracefulShutdownTimeout"` //nolint: lll
}

// Load receives the path for yaml config file and returns a filled Config struct.
func Load(configPath string) (*Config, error) {
	var cfg Config
	err := cleanenv.ReadConfig(configPath, &cfg)
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}

	return &cfg, nil
}
