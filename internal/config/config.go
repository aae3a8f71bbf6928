// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// webhook server, the segmentation worker, the work queue, the object store,
// the messaging platform client, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the public
// object routes.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "person-blocker")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// MessengerConfig holds the messaging platform credentials and endpoint.
type MessengerConfig struct {
	AccessToken string  // ACCESS_TOKEN (required)
	VerifyToken string  // VERIFY_TOKEN (optional subscription check)
	GraphAPIURL string  // GRAPH_API_URL
	SendRPS     float64 // outbound Send API pacing
}

// StorageConfig describes the public object store.
type StorageConfig struct {
	Bucket        string // BUCKET_NAME (required)
	Dir           string // STORAGE_DIR, root directory of the filesystem store
	PublicBaseURL string // PUBLIC_BASE_URL, prefix for object URLs
}

// QueueConfig selects and tunes the work queue backend.
type QueueConfig struct {
	Backend           string        // sql|kafka
	Name              string        // logical queue name
	VisibilityTimeout time.Duration // hide received messages for this long
	DedupWindow       time.Duration // dedup ids are remembered for this long
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaGroupID      string
}

// WorkerConfig tunes the segmentation worker loop.
type WorkerConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	MetricsPort  string // serves /metrics and /health for the worker process
}

// SegmenterConfig configures the instance segmentation backend and the
// masking rule applied to its output.
type SegmenterConfig struct {
	Backend         string // http|dnn
	URL             string // SEGMENTER_URL for the http backend
	MinScore        float64
	ModelPath       string // frozen graph used by the dnn backend
	ModelConfigPath string // graph text config used by the dnn backend
	ModelURL        string // remote source for the weights file
	TargetClasses   []string
	MaskColor       [3]uint8
	NoiseStdDev     float64
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for the job status API

	// Database (job ledger, sql queue, dedup ledger)
	DBDriver string // sqlite|postgres
	DBPath   string // SQLite path
	DBDSN    string // Postgres DSN

	// Inbound image handling
	FetchTimeout  time.Duration
	MaxImageBytes int64

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Messenger MessengerConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Segmenter SegmenterConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables (after merging an
// optional .env file), applies defaults, normalizes values, and validates the
// result. Missing ACCESS_TOKEN or BUCKET_NAME is an error.
func Load() (Config, error) {
	// A missing .env file is fine; real deployments set the environment.
	_ = godotenv.Load()

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Database
		DBDriver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:   getenv("DB_PATH", "blocker.db"),
		DBDSN:    getenv("DB_DSN", ""),

		FetchTimeout:  getdur("FETCH_TIMEOUT", 30*time.Second),
		MaxImageBytes: int64(getint("MAX_IMAGE_BYTES", 25<<20)),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Messenger: MessengerConfig{
			AccessToken: getenv("ACCESS_TOKEN", ""),
			VerifyToken: getenv("VERIFY_TOKEN", ""),
			GraphAPIURL: strings.TrimRight(getenv("GRAPH_API_URL", "https://graph.facebook.com/v2.12"), "/"),
			SendRPS:     getfloat("SEND_RPS", 10.0),
		},

		Storage: StorageConfig{
			Bucket:        getenv("BUCKET_NAME", ""),
			Dir:           getenv("STORAGE_DIR", "data/objects"),
			PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080/files"), "/"),
		},

		Queue: QueueConfig{
			Backend:           strings.ToLower(getenv("QUEUE_BACKEND", "sql")),
			Name:              getenv("QUEUE_NAME", "tensor-flow.fifo"),
			VisibilityTimeout: getdur("QUEUE_VISIBILITY_TIMEOUT", 60*time.Second),
			DedupWindow:       getdur("QUEUE_DEDUP_WINDOW", 5*time.Minute),
			KafkaBrokers:      splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			KafkaTopic:        getenv("KAFKA_TOPIC", "person-blocker"),
			KafkaGroupID:      getenv("KAFKA_GROUP_ID", "person-blocker-worker"),
		},

		Worker: WorkerConfig{
			BatchSize:    getint("WORKER_BATCH_SIZE", 10),
			PollInterval: getdur("WORKER_POLL_INTERVAL", time.Second),
			MaxAttempts:  getint("WORKER_MAX_ATTEMPTS", 3),
			MetricsPort:  getenv("WORKER_METRICS_PORT", "9091"),
		},

		Segmenter: SegmenterConfig{
			Backend:         strings.ToLower(getenv("SEGMENTER_BACKEND", "http")),
			URL:             getenv("SEGMENTER_URL", "http://localhost:9000/v1/segment"),
			MinScore:        getfloat("SEGMENTER_MIN_SCORE", 0.7),
			ModelPath:       getenv("MODEL_PATH", "models/mask_rcnn_inception_v2_coco.pb"),
			ModelConfigPath: getenv("MODEL_CONFIG_PATH", "models/mask_rcnn_inception_v2_coco.pbtxt"),
			ModelURL:        getenv("MODEL_URL", ""),
			TargetClasses:   splitCSV(getenv("TARGET_CLASSES", "person")),
			NoiseStdDev:     getfloat("NOISE_STDDEV", 25),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "person-blocker"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	maskColor, err := parseColor(getenv("MASK_COLOR", "255,255,255"))
	if err != nil {
		return cfg, err
	}
	cfg.Segmenter.MaskColor = maskColor

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	if strings.TrimSpace(cfg.Messenger.AccessToken) == "" {
		return cfg, errors.New("ACCESS_TOKEN is required")
	}
	if strings.TrimSpace(cfg.Storage.Bucket) == "" {
		return cfg, errors.New("BUCKET_NAME is required")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return cfg, errors.New("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.FetchTimeout <= 0 {
		return cfg, errors.New("FETCH_TIMEOUT must be > 0")
	}
	if cfg.MaxImageBytes <= 0 {
		return cfg, errors.New("MAX_IMAGE_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.Messenger.SendRPS <= 0 {
		return cfg, errors.New("SEND_RPS must be > 0")
	}
	switch cfg.Queue.Backend {
	case "sql":
	case "kafka":
		if len(cfg.Queue.KafkaBrokers) == 0 || strings.TrimSpace(cfg.Queue.KafkaTopic) == "" {
			return cfg, errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required when QUEUE_BACKEND=kafka")
		}
	default:
		return cfg, errors.New("QUEUE_BACKEND must be one of: sql, kafka")
	}
	if cfg.Queue.VisibilityTimeout <= 0 || cfg.Queue.DedupWindow <= 0 {
		return cfg, errors.New("queue timeouts must be positive durations")
	}
	if cfg.Worker.BatchSize < 1 || cfg.Worker.BatchSize > 10 {
		return cfg, errors.New("WORKER_BATCH_SIZE must be between 1 and 10")
	}
	if cfg.Worker.PollInterval <= 0 {
		return cfg, errors.New("WORKER_POLL_INTERVAL must be > 0")
	}
	if cfg.Worker.MaxAttempts < 1 {
		return cfg, errors.New("WORKER_MAX_ATTEMPTS must be >= 1")
	}
	switch cfg.Segmenter.Backend {
	case "http", "dnn":
	default:
		return cfg, errors.New("SEGMENTER_BACKEND must be one of: http, dnn")
	}
	if cfg.Segmenter.MinScore < 0 || cfg.Segmenter.MinScore > 1 {
		return cfg, errors.New("SEGMENTER_MIN_SCORE must be between 0 and 1")
	}
	if len(cfg.Segmenter.TargetClasses) == 0 {
		return cfg, errors.New("TARGET_CLASSES must not be empty")
	}
	if cfg.Segmenter.NoiseStdDev < 0 {
		return cfg, errors.New("NOISE_STDDEV must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseColor reads an "R,G,B" triple with components in [0,255].
func parseColor(s string) ([3]uint8, error) {
	var out [3]uint8
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return out, errors.New("MASK_COLOR must be R,G,B")
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return out, errors.New("MASK_COLOR components must be integers in [0,255]")
		}
		out[i] = uint8(n)
	}
	return out, nil
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
