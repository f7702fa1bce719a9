// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/olx-listings-pipeline/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. LISTINGS_CRAWLER_WORKERS.
const EnvPrefix = "LISTINGS"

// Queue backends.
const (
	QueueMemory = "memory"
	QueuePubSub = "pubsub"
	QueueNoop   = "noop"
)

// Blob storage backends.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	WorkList  WorkListConfig  `mapstructure:"worklist"`
	Links     LinksConfig     `mapstructure:"links"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// APIConfig controls the operational HTTP server. A zero Port disables it.
type APIConfig struct {
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// WorkListConfig locates the work list file.
type WorkListConfig struct {
	Path string `mapstructure:"path"`
}

// LinksConfig drives work list generation.
type LinksConfig struct {
	Seeds     []string      `mapstructure:"seeds"`
	SeedPage  string        `mapstructure:"seed_page"`
	Selector  string        `mapstructure:"selector"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CrawlerConfig governs the browser, the workers, and their retry schedule.
type CrawlerConfig struct {
	Workers               int           `mapstructure:"workers"`
	UserAgent             string        `mapstructure:"user_agent"`
	Headless              bool          `mapstructure:"headless"`
	ExecPath              string        `mapstructure:"exec_path"`
	NavigationTimeout     time.Duration `mapstructure:"navigation_timeout"`
	NavigationQPS         float64       `mapstructure:"navigation_qps"`
	NextPageText          string        `mapstructure:"next_page_text"`
	AcceptLanguage        string        `mapstructure:"accept_language"`
	Selector              string        `mapstructure:"selector"`
	SelectorTimeout       time.Duration `mapstructure:"selector_timeout"`
	ExtractAttempts       int           `mapstructure:"extract_attempts"`
	ExtractBackoff        time.Duration `mapstructure:"extract_backoff"`
	PaginateAttempts      int           `mapstructure:"paginate_attempts"`
	PaginateBackoff       time.Duration `mapstructure:"paginate_backoff"`
	OpenAttempts          int           `mapstructure:"open_attempts"`
	NameResolutionBackoff time.Duration `mapstructure:"name_resolution_backoff"`
	PageDelay             time.Duration `mapstructure:"page_delay"`
}

// QueueConfig selects the message transport and its topics.
type QueueConfig struct {
	Backend             string `mapstructure:"backend"`
	ProjectID           string `mapstructure:"project_id"`
	PayloadTopic        string `mapstructure:"payload_topic"`
	StatusTopic         string `mapstructure:"status_topic"`
	PayloadSubscription string `mapstructure:"payload_subscription"`
	StatusSubscription  string `mapstructure:"status_subscription"`
	Capacity            int    `mapstructure:"capacity"`
}

// DatabaseConfig controls access to the listings database. An empty DSN
// keeps records in memory.
type DatabaseConfig struct {
	DSN             string             `mapstructure:"dsn"`
	Tables          storage.TableNames `mapstructure:"tables"`
	MaxConns        int32              `mapstructure:"max_conns"`
	MinConns        int32              `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration      `mapstructure:"max_conn_lifetime"`
	BatchSize       int                `mapstructure:"batch_size"`
}

// StorageConfig selects where batch exports and raw payload archives go.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	Bucket        string `mapstructure:"bucket"`
	LocalDir      string `mapstructure:"local_dir"`
	Export        bool   `mapstructure:"export"`
	ExportPrefix  string `mapstructure:"export_prefix"`
	ArchiveRaw    bool   `mapstructure:"archive_raw"`
	ArchivePrefix string `mapstructure:"archive_prefix"`
}

// TelemetryConfig configures trace context propagation.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional .env file, the config file at path,
// and LISTINGS_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 0)
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.request_timeout", "30s")
	v.SetDefault("logging.development", false)
	v.SetDefault("worklist.path", "data/links.csv")
	v.SetDefault("links.seeds", []string{})
	v.SetDefault("links.seed_page", "")
	v.SetDefault("links.selector", "")
	v.SetDefault("links.user_agent", defaultUserAgent)
	v.SetDefault("links.timeout", "30s")
	v.SetDefault("crawler.workers", 5)
	v.SetDefault("crawler.user_agent", defaultUserAgent)
	v.SetDefault("crawler.headless", true)
	v.SetDefault("crawler.exec_path", "")
	v.SetDefault("crawler.navigation_timeout", "45s")
	v.SetDefault("crawler.navigation_qps", 0.0)
	v.SetDefault("crawler.next_page_text", "Próxima página")
	v.SetDefault("crawler.accept_language", "pt-BR,pt;q=0.9")
	v.SetDefault("crawler.selector", "script#__NEXT_DATA__")
	v.SetDefault("crawler.selector_timeout", "20s")
	v.SetDefault("crawler.extract_attempts", 3)
	v.SetDefault("crawler.extract_backoff", "3s")
	v.SetDefault("crawler.paginate_attempts", 5)
	v.SetDefault("crawler.paginate_backoff", "5s")
	v.SetDefault("crawler.open_attempts", 3)
	v.SetDefault("crawler.name_resolution_backoff", "5s")
	v.SetDefault("crawler.page_delay", "2s")
	v.SetDefault("queue.backend", QueueMemory)
	v.SetDefault("queue.project_id", "")
	v.SetDefault("queue.payload_topic", "scraped-data")
	v.SetDefault("queue.status_topic", "scraping-progress")
	v.SetDefault("queue.payload_subscription", "scraped-data-sub")
	v.SetDefault("queue.status_subscription", "scraping-progress-sub")
	v.SetDefault("queue.capacity", 256)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.tables.sale", storage.DefaultSaleTable)
	v.SetDefault("database.tables.rent", storage.DefaultRentTable)
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.batch_size", 500)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.local_dir", "data/exports")
	v.SetDefault("storage.export", false)
	v.SetDefault("storage.export_prefix", "exports")
	v.SetDefault("storage.archive_raw", false)
	v.SetDefault("storage.archive_prefix", "archive")
	v.SetDefault("telemetry.service_name", "olx-listings-pipeline")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/111.0.0.0 Safari/537.36"

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 0 and 65535")
	}
	if strings.TrimSpace(c.WorkList.Path) == "" {
		return fmt.Errorf("worklist.path is required")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.ExtractAttempts <= 0 || c.Crawler.PaginateAttempts <= 0 || c.Crawler.OpenAttempts <= 0 {
		return fmt.Errorf("crawler retry attempts must be > 0")
	}
	if c.Crawler.NavigationQPS < 0 {
		return fmt.Errorf("crawler.navigation_qps must be >= 0")
	}
	switch c.Queue.Backend {
	case QueueMemory, QueueNoop:
	case QueuePubSub:
		if c.Queue.ProjectID == "" {
			return fmt.Errorf("queue.project_id is required for the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	if c.Queue.PayloadTopic == "" || c.Queue.StatusTopic == "" {
		return fmt.Errorf("queue topics are required")
	}
	if c.Queue.PayloadTopic == c.Queue.StatusTopic {
		return fmt.Errorf("queue.payload_topic and queue.status_topic must differ")
	}
	if err := c.Database.Tables.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("database.tables: %w", err)
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		return fmt.Errorf("database.min_conns must not exceed database.max_conns")
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if (c.Storage.Export || c.Storage.ArchiveRaw) && c.Storage.Backend == StorageNone {
		return fmt.Errorf("storage.backend is required when export or archive_raw is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}
