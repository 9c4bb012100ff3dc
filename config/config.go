package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultDisplayMaxSize   = 1920
	DefaultThumbnailMaxSize = 400
)

const (
	defaultDisplayJpegQuality   = 88
	defaultThumbnailJpegQuality = 82
	defaultDerivativeQueueSize  = 64
	defaultNumDerivativeWorkers = 4
	defaultMaxConcurrentExports = 4
	defaultExportPrefetch       = 2
	defaultAuthRateLimit        = 10 // per minute per IP
	defaultAnalyticsWindowDays  = 30
	defaultAnalyticsTopImages   = 10
	defaultMaxUploadMB          = 64
	defaultDBMaxOpenConns       = 1

	defaultCredentialTTL   = 7 * 24 * time.Hour
	defaultAdminSessionTTL = 24 * time.Hour
	defaultStoreTimeout    = 5 * time.Second
	defaultRequestTimeout  = 60 * time.Second
	defaultUploadTimeout   = 10 * time.Minute
	defaultStatsInterval   = 15 * time.Minute
)

type Config struct {
	// database settings
	DatabasePath   string
	DBMaxOpenConns int

	// media storage configuration
	MediaStoragePath string // root for the local filesystem store
	BlobBucketURL    string // gocloud bucket URL (mem://, file://, gs://, s3://); empty uses MediaStoragePath
	PublicMediaURL   string // base for published retrieval addresses, e.g. https://cdn.example.com/media

	// derivative generation settings
	DisplayMaxSize       int
	ThumbnailMaxSize     int
	DisplayJpegQuality   int
	ThumbnailJpegQuality int
	MaxUploadBytes       int64

	// worker settings
	DerivativeQueueSize  int
	NumDerivativeWorkers int
	StatsRollupInterval  time.Duration

	// credentials
	CredentialSecret string
	CredentialTTL    time.Duration
	AdminJWTSecret   string
	AdminSessionTTL  time.Duration
	AdminUsername    string // bootstrap admin, created when no users exist
	AdminPassword    string

	// request handling
	StoreTimeout         time.Duration // applied to credential verification and catalog reads
	RequestTimeout       time.Duration // every route except uploads and downloads
	UploadTimeout        time.Duration // one multipart upload batch
	MaxConcurrentExports int
	ExportPrefetch       int // images fetched ahead of the zip encoder
	AuthRateLimit        int
	AllowedOrigins       []string
	PublicSiteURL        string // base URL used for gallery share links

	// analytics
	AnalyticsWindowDays int
	AnalyticsTopImages  int

	// PlaceholderFallback serves a fixed placeholder listing for galleries with an empty
	// catalog. degraded mode only.
	PlaceholderFallback bool
}

// source wraps the koanf instance so lookups read like the env helpers they replace.
type source struct {
	k *koanf.Koanf
}

func (s source) stringOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(s.k.String(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func (s source) intOrDefault(key string, defaultVal int) int {
	valStr := strings.TrimSpace(s.k.String(key))
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", key, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func (s source) durationOrDefault(key string, defaultVal time.Duration) time.Duration {
	valStr := strings.TrimSpace(s.k.String(key))
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %s. Error: %v", key, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func (s source) boolOrDefault(key string, defaultVal bool) bool {
	valStr := strings.TrimSpace(s.k.String(key))
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %t. Error: %v", key, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func (s source) listOrDefault(key string, defaultVal []string) []string {
	raw := s.stringOrDefault(key, "")
	if raw == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// load reads the optional YAML file named by CONFIG_FILE and overlays the process
// environment. keys are flat lower_snake names: DATABASE_PATH becomes database_path.
func load() (source, error) {
	k := koanf.New(".")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return source{}, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(key), value
		},
	}), nil)
	if err != nil {
		return source{}, fmt.Errorf("failed to load environment: %w", err)
	}
	return source{k: k}, nil
}

func LoadConfig() (Config, error) {
	src, err := load()
	if err != nil {
		return Config{}, err
	}

	mediaStorage := src.stringOrDefault("media_storage_path", filepath.Join(".", "media_storage"))
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}

	credentialSecret := src.stringOrDefault("credential_secret", "")
	if credentialSecret == "" {
		return Config{}, fmt.Errorf("CREDENTIAL_SECRET must be set")
	}
	adminSecret := src.stringOrDefault("admin_jwt_secret", "")
	if adminSecret == "" {
		return Config{}, fmt.Errorf("ADMIN_JWT_SECRET must be set")
	}

	cfg := Config{
		DatabasePath:   src.stringOrDefault("database_path", "galleries.db"),
		DBMaxOpenConns: src.intOrDefault("db_max_open_conns", defaultDBMaxOpenConns),

		MediaStoragePath: absMediaStorage,
		BlobBucketURL:    src.stringOrDefault("blob_bucket_url", ""),
		PublicMediaURL:   strings.TrimRight(src.stringOrDefault("public_media_url", "/media"), "/"),

		DisplayMaxSize:       src.intOrDefault("display_max_size", DefaultDisplayMaxSize),
		ThumbnailMaxSize:     src.intOrDefault("thumbnail_max_size", DefaultThumbnailMaxSize),
		DisplayJpegQuality:   src.intOrDefault("display_jpeg_quality", defaultDisplayJpegQuality),
		ThumbnailJpegQuality: src.intOrDefault("thumbnail_jpeg_quality", defaultThumbnailJpegQuality),
		MaxUploadBytes:       int64(src.intOrDefault("max_upload_mb", defaultMaxUploadMB)) << 20,

		DerivativeQueueSize:  src.intOrDefault("derivative_queue_size", defaultDerivativeQueueSize),
		NumDerivativeWorkers: src.intOrDefault("num_derivative_workers", defaultNumDerivativeWorkers),
		StatsRollupInterval:  src.durationOrDefault("stats_rollup_interval", defaultStatsInterval),

		CredentialSecret: credentialSecret,
		CredentialTTL:    src.durationOrDefault("credential_ttl", defaultCredentialTTL),
		AdminJWTSecret:   adminSecret,
		AdminSessionTTL:  src.durationOrDefault("admin_session_ttl", defaultAdminSessionTTL),
		AdminUsername:    src.stringOrDefault("admin_username", ""),
		AdminPassword:    src.stringOrDefault("admin_password", ""),

		StoreTimeout:         src.durationOrDefault("store_timeout", defaultStoreTimeout),
		RequestTimeout:       src.durationOrDefault("request_timeout", defaultRequestTimeout),
		UploadTimeout:        src.durationOrDefault("upload_timeout", defaultUploadTimeout),
		MaxConcurrentExports: src.intOrDefault("max_concurrent_exports", defaultMaxConcurrentExports),
		ExportPrefetch:       src.intOrDefault("export_prefetch", defaultExportPrefetch),
		AuthRateLimit:        src.intOrDefault("auth_rate_limit", defaultAuthRateLimit),
		AllowedOrigins:       src.listOrDefault("allowed_origins", []string{"http://localhost:5173"}),
		PublicSiteURL:        strings.TrimRight(src.stringOrDefault("public_site_url", "http://localhost:5173"), "/"),

		AnalyticsWindowDays: src.intOrDefault("analytics_window_days", defaultAnalyticsWindowDays),
		AnalyticsTopImages:  src.intOrDefault("analytics_top_images", defaultAnalyticsTopImages),

		PlaceholderFallback: src.boolOrDefault("placeholder_fallback", false),
	}

	return cfg, nil
}
