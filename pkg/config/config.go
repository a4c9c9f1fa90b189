// Package config loads process configuration from ZKHOTDOG_* environment
// variables and command-line flags. Flags win over the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Mindburn-Labs/zkhotdog/pkg/artifacts"
	"github.com/Mindburn-Labs/zkhotdog/pkg/observability"
	"github.com/Mindburn-Labs/zkhotdog/pkg/retry"
	"github.com/Mindburn-Labs/zkhotdog/pkg/toolchain"
)

// Store backends.
const (
	StoreSharded = "sharded"
	StoreSQLite  = "sqlite"
)

// Config holds server configuration.
type Config struct {
	ListenAddr    string `env:"ZKHOTDOG_LISTEN_ADDR" envDefault:":3000"`
	PublicBaseURL string `env:"ZKHOTDOG_PUBLIC_BASE_URL" envDefault:"http://localhost:3000"`
	UploadDir     string `env:"ZKHOTDOG_UPLOAD_DIR" envDefault:"uploads"`
	WorkDir       string `env:"ZKHOTDOG_WORK_DIR" envDefault:"proofs"`

	ArtifactBackend  string `env:"ZKHOTDOG_ARTIFACT_BACKEND" envDefault:"fs"`
	ArtifactBucket   string `env:"ZKHOTDOG_ARTIFACT_BUCKET"`
	ArtifactPrefix   string `env:"ZKHOTDOG_ARTIFACT_PREFIX"`
	ArtifactRegion   string `env:"ZKHOTDOG_ARTIFACT_REGION"`
	ArtifactEndpoint string `env:"ZKHOTDOG_ARTIFACT_ENDPOINT"`

	StoreBackend string `env:"ZKHOTDOG_STORE" envDefault:"sharded"`
	StoreShards  int    `env:"ZKHOTDOG_STORE_SHARDS" envDefault:"32"`

	ProveWorkers  int `env:"ZKHOTDOG_PROVE_WORKERS" envDefault:"2"`
	VerifyWorkers int `env:"ZKHOTDOG_VERIFY_WORKERS" envDefault:"2"`

	WitnessTimeout time.Duration `env:"ZKHOTDOG_WITNESS_TIMEOUT" envDefault:"2m"`
	ProveTimeout   time.Duration `env:"ZKHOTDOG_PROVE_TIMEOUT" envDefault:"10m"`
	VerifyTimeout  time.Duration `env:"ZKHOTDOG_VERIFY_TIMEOUT" envDefault:"5m"`

	RetryAttempts int           `env:"ZKHOTDOG_RETRY_ATTEMPTS" envDefault:"1"`
	RetryBase     time.Duration `env:"ZKHOTDOG_RETRY_BASE" envDefault:"250ms"`
	RetryMax      time.Duration `env:"ZKHOTDOG_RETRY_MAX" envDefault:"10s"`
	RetryJitter   time.Duration `env:"ZKHOTDOG_RETRY_JITTER" envDefault:"250ms"`

	RateLimitRPS   float64 `env:"ZKHOTDOG_RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"ZKHOTDOG_RATE_LIMIT_BURST" envDefault:"10"`
	RedisAddr      string  `env:"ZKHOTDOG_REDIS_ADDR"`

	IdempotencyTTL time.Duration `env:"ZKHOTDOG_IDEMPOTENCY_TTL" envDefault:"24h"`

	AdmissionExpr  string `env:"ZKHOTDOG_ADMISSION_EXPR"`
	ToolchainPath  string `env:"ZKHOTDOG_TOOLCHAIN"`
	MaxUploadBytes int64  `env:"ZKHOTDOG_MAX_UPLOAD_BYTES" envDefault:"33554432"`

	OTLPEnabled  bool   `env:"ZKHOTDOG_OTLP_ENABLED" envDefault:"false"`
	OTLPEndpoint string `env:"ZKHOTDOG_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTLPInsecure bool   `env:"ZKHOTDOG_OTLP_INSECURE" envDefault:"true"`

	LogLevel  string `env:"ZKHOTDOG_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ZKHOTDOG_LOG_FORMAT" envDefault:"text"`
}

// Load reads the environment only.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ParseConfig reads the environment, then applies flags from args.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "HTTP listen address")
	fs.StringVar(&cfg.PublicBaseURL, "public-url", cfg.PublicBaseURL, "base URL used in status links")
	fs.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "directory for uploaded images (fs backend)")
	fs.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "directory for per-measurement proving artifacts")
	fs.StringVar(&cfg.ArtifactBackend, "artifacts", cfg.ArtifactBackend, "image store backend (fs|s3|gcs)")
	fs.StringVar(&cfg.ArtifactBucket, "artifact-bucket", cfg.ArtifactBucket, "bucket for s3/gcs image storage")
	fs.StringVar(&cfg.StoreBackend, "store", cfg.StoreBackend, "record store backend (sharded|sqlite)")
	fs.IntVar(&cfg.StoreShards, "shards", cfg.StoreShards, "shard count for the sharded store")
	fs.IntVar(&cfg.ProveWorkers, "prove-workers", cfg.ProveWorkers, "concurrent witness+prove workers")
	fs.IntVar(&cfg.VerifyWorkers, "verify-workers", cfg.VerifyWorkers, "concurrent verification workers")
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "attempts per tool invocation")
	fs.Float64Var(&cfg.RateLimitRPS, "rate-limit", cfg.RateLimitRPS, "submissions per second per client (0 disables)")
	fs.IntVar(&cfg.RateLimitBurst, "rate-burst", cfg.RateLimitBurst, "submission burst per client")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address for a shared rate limiter")
	fs.StringVar(&cfg.AdmissionExpr, "admission", cfg.AdmissionExpr, "CEL admission expression")
	fs.StringVar(&cfg.ToolchainPath, "toolchain", cfg.ToolchainPath, "toolchain profile YAML")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text|json)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.WorkDir == "" {
		errs = append(errs, errors.New("work dir is required"))
	}
	switch c.StoreBackend {
	case StoreSharded, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}
	if c.ProveWorkers < 1 || c.VerifyWorkers < 1 {
		errs = append(errs, errors.New("worker counts must be at least 1"))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel onto slog levels.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return lvl, nil
}

func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		BaseMs:      c.RetryBase.Milliseconds(),
		MaxMs:       c.RetryMax.Milliseconds(),
		MaxJitterMs: c.RetryJitter.Milliseconds(),
		MaxAttempts: c.RetryAttempts,
	}
}

func (c Config) Timeouts() toolchain.Timeouts {
	return toolchain.Timeouts{Witness: c.WitnessTimeout, Prove: c.ProveTimeout, Verify: c.VerifyTimeout}
}

func (c Config) Artifacts() artifacts.Config {
	return artifacts.Config{
		Backend:  artifacts.Backend(c.ArtifactBackend),
		Dir:      c.UploadDir,
		Bucket:   c.ArtifactBucket,
		Prefix:   c.ArtifactPrefix,
		Region:   c.ArtifactRegion,
		Endpoint: c.ArtifactEndpoint,
	}
}

func (c Config) Observability(version string) *observability.Config {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = version
	oc.Enabled = c.OTLPEnabled
	oc.OTLPEndpoint = c.OTLPEndpoint
	oc.Insecure = c.OTLPInsecure
	return oc
}
