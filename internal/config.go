package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Blob backends.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

// Session stores.
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Database DatabaseConfig    `yaml:"database"`
	Blob     BlobConfig        `yaml:"blob"`
	Auth     AuthConfig        `yaml:"auth"`
	Events   EventsConfig      `yaml:"events"`
	Metrics  MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Blob.Validate(); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return c.Events.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port        int `yaml:"port"`
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MaxUploadBytes is the request body limit for uploads.
func (c *HTTPConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.MaxUploadMB, validation.Required, validation.Min(1), validation.Max(4096)),
	)
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver    string        `yaml:"driver"`
	DSN       string        `yaml:"dsn"`
	SlowQuery time.Duration `yaml:"slow_query"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In("sqlite", "postgres", "mysql")),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.SlowQuery, validation.Min(time.Duration(0))),
	)
}

// BlobConfig selects where uploaded files are kept.
type BlobConfig struct {
	Backend           string       `yaml:"backend"`
	FS                FSBlobConfig `yaml:"fs"`
	S3                S3BlobConfig `yaml:"s3"`
	StrictUploads     bool         `yaml:"strict_uploads"`
	UploadConcurrency int          `yaml:"upload_concurrency"`
}

// Validate validates the blob configuration.
func (c *BlobConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BlobBackendFS, BlobBackendS3)),
		validation.Field(&c.UploadConcurrency, validation.Min(1), validation.Max(32)),
	); err != nil {
		return err
	}
	if c.Backend == BlobBackendS3 {
		return c.S3.Validate()
	}
	return c.FS.Validate()
}

// FSBlobConfig stores blobs in a local directory served at PublicBaseURL.
type FSBlobConfig struct {
	Path          string `yaml:"path"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// Validate validates the filesystem blob configuration.
func (c *FSBlobConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.PublicBaseURL, validation.Required),
	)
}

// S3BlobConfig stores blobs in an S3-compatible bucket.
type S3BlobConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl"`
	PublicHost   string `yaml:"public_host"`
	PublicRead   bool   `yaml:"public_read"`
	CreateBucket bool   `yaml:"create_bucket"`
}

// Validate validates the S3 blob configuration.
func (c *S3BlobConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.Required),
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.AccessKey, validation.Required),
		validation.Field(&c.SecretKey, validation.Required),
		validation.Field(&c.PublicHost, validation.Required, is.Host),
	)
}

// AuthConfig holds session configuration.
type AuthConfig struct {
	SessionStore string        `yaml:"session_store"`
	RedisURL     string        `yaml:"redis_url"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	CookieName   string        `yaml:"cookie_name"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.SessionStore == "" {
		c.SessionStore = SessionStoreMemory
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.SessionStore, validation.In(SessionStoreMemory, SessionStoreRedis)),
		validation.Field(&c.RedisURL, validation.When(c.SessionStore == SessionStoreRedis, validation.Required)),
		validation.Field(&c.SessionTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.CookieName, validation.Required),
	)
}

// EventsConfig tunes the SSE broker.
type EventsConfig struct {
	Throttle time.Duration `yaml:"throttle"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Throttle, validation.Min(time.Duration(0))),
	)
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:        8080,
				MaxUploadMB: 200,
			},
		},
		Database: DatabaseConfig{
			Driver:    "sqlite",
			DSN:       "./councilhub.db",
			SlowQuery: 200 * time.Millisecond,
		},
		Blob: BlobConfig{
			Backend: BlobBackendFS,
			FS: FSBlobConfig{
				Path:          "./blobs",
				PublicBaseURL: "/blobs",
			},
			UploadConcurrency: 4,
		},
		Auth: AuthConfig{
			SessionStore: SessionStoreMemory,
			SessionTTL:   12 * time.Hour,
			CookieName:   "councilhub_session",
		},
		Events: EventsConfig{
			Throttle: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
