package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/listing-ingest/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// SourceConfig describes the external listings site.
type SourceConfig struct {
	IndexURL     string   `yaml:"index_url" mapstructure:"index_url"`
	LinkPatterns []string `yaml:"link_patterns" mapstructure:"link_patterns"`
	ExcludePaths []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// FetchConfig configures outbound HTTP.
type FetchConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	MaxBodyKB         int     `yaml:"max_body_kb" mapstructure:"max_body_kb"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// IngestConfig bounds a single ingestion run.
type IngestConfig struct {
	MaxCandidates    int `yaml:"max_candidates" mapstructure:"max_candidates"`
	DeadlineSecs     int `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	FetchAttempts    int `yaml:"fetch_attempts" mapstructure:"fetch_attempts"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	MaxMessages      int `yaml:"max_messages" mapstructure:"max_messages"`
}

// ExtractConfig tunes the detail-page heuristics.
type ExtractConfig struct {
	PriceMaxChars       int      `yaml:"price_max_chars" mapstructure:"price_max_chars"`
	MaxDescriptionChars int      `yaml:"max_description_chars" mapstructure:"max_description_chars"`
	FullTextLimit       int      `yaml:"full_text_limit" mapstructure:"full_text_limit"`
	ImagePathMarkers    []string `yaml:"image_path_markers" mapstructure:"image_path_markers"`
	ImageExcludeMarkers []string `yaml:"image_exclude_markers" mapstructure:"image_exclude_markers"`
}

// NormalizeConfig holds defaults and limits for canonical fields.
type NormalizeConfig struct {
	DefaultPrice           int64    `yaml:"default_price" mapstructure:"default_price"`
	DefaultRooms           int      `yaml:"default_rooms" mapstructure:"default_rooms"`
	DefaultSizeSqm         int      `yaml:"default_size_sqm" mapstructure:"default_size_sqm"`
	DefaultNeighborhood    string   `yaml:"default_neighborhood" mapstructure:"default_neighborhood"`
	Gazetteer              []string `yaml:"gazetteer" mapstructure:"gazetteer"`
	MaxSlugLength          int      `yaml:"max_slug_length" mapstructure:"max_slug_length"`
	MaxDescriptionLength   int      `yaml:"max_description_length" mapstructure:"max_description_length"`
	ShortDescriptionLength int      `yaml:"short_description_length" mapstructure:"short_description_length"`
	MaxImages              int      `yaml:"max_images" mapstructure:"max_images"`
}

// AuditConfig lists the stored columns the auditor inspects.
type AuditConfig struct {
	Targets     []string `yaml:"targets" mapstructure:"targets"`
	SlugTargets []string `yaml:"slug_targets" mapstructure:"slug_targets"`
	BatchSize   int      `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRows     int      `yaml:"max_rows" mapstructure:"max_rows"`
	MaxSamples  int      `yaml:"max_samples" mapstructure:"max_samples"`
}

// Columns parses Targets and SlugTargets into column references. Entries
// without a "table.column" shape are skipped; Validate reports them.
func (a AuditConfig) Columns() []model.ColumnRef {
	var refs []model.ColumnRef
	for _, t := range a.Targets {
		if ref, ok := model.ParseColumnRef(t, model.ColumnContent); ok {
			refs = append(refs, ref)
		}
	}
	for _, t := range a.SlugTargets {
		if ref, ok := model.ParseColumnRef(t, model.ColumnSlug); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// ServerConfig configures the HTTP trigger server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables always win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LISTINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)

	v.SetDefault("source.index_url", "")
	v.SetDefault("source.link_patterns", []string{"/ilan/", "/listing", "/property", "/emlak/", "/portfoy/"})
	v.SetDefault("source.exclude_paths", []string{"/blog/*", "/iletisim*", "/contact*", "/*.pdf"})

	v.SetDefault("fetch.timeout_secs", 15)
	v.SetDefault("fetch.requests_per_second", 2.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("fetch.max_body_kb", 2048)
	v.SetDefault("fetch.user_agent", "listing-ingest/1.0")

	v.SetDefault("ingest.max_candidates", 20)
	v.SetDefault("ingest.deadline_secs", 55)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.fetch_attempts", 2)
	v.SetDefault("ingest.breaker_threshold", 5)
	v.SetDefault("ingest.max_messages", 25)

	v.SetDefault("extract.price_max_chars", 64)
	v.SetDefault("extract.max_description_chars", 8000)
	v.SetDefault("extract.full_text_limit", 64*1024)
	v.SetDefault("extract.image_path_markers", []string{"/uploads/", "/upload/", "/images/ilan/"})
	v.SetDefault("extract.image_exclude_markers", []string{"logo", "icon", "favicon", "sprite", "placeholder"})

	v.SetDefault("normalize.default_price", 1000000)
	v.SetDefault("normalize.default_rooms", 2)
	v.SetDefault("normalize.default_size_sqm", 100)
	v.SetDefault("normalize.default_neighborhood", "center")
	v.SetDefault("normalize.gazetteer", []string{
		"Cunda", "Sarımsaklı", "Küçükköy", "Altınova", "Ayvalık Merkez",
		"Camlık", "Bağyüzü", "Kemalpaşa", "Hayrettinpaşa", "Zekibey",
	})
	v.SetDefault("normalize.max_slug_length", 80)
	v.SetDefault("normalize.max_description_length", 4000)
	v.SetDefault("normalize.short_description_length", 200)
	v.SetDefault("normalize.max_images", 20)

	v.SetDefault("audit.targets", []string{"listings.description_short", "listings.description_long"})
	v.SetDefault("audit.slug_targets", []string{"listings.slug"})
	v.SetDefault("audit.batch_size", 500)
	v.SetDefault("audit.max_rows", 10000)
	v.SetDefault("audit.max_samples", 10)

	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
