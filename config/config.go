package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       int
	DataDir    string
	ScratchDir string

	Workers        int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	JobTimeout     time.Duration
	PollInterval   time.Duration

	PageTTL      time.Duration
	RasterDPI    int
	PdftoppmPath string

	SigningSecret string
	SignedURLTTL  time.Duration

	MinETA        time.Duration
	MaxETA        time.Duration
	HistoryWindow int
	MetricsWindow int
}

func Load() (*Config, error) {
	// Optional; real deployments set the environment directly.
	_ = godotenv.Load()

	port, err := getEnvAsInt("PORT", 7891)
	if err != nil {
		return nil, err
	}
	workers, err := getEnvAsInt("WORKERS", 3)
	if err != nil {
		return nil, err
	}
	maxRetries, err := getEnvAsInt("MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	rasterDPI, err := getEnvAsInt("RASTER_DPI", 150)
	if err != nil {
		return nil, err
	}
	pageTTLDays, err := getEnvAsInt("PAGE_TTL_DAYS", 7)
	if err != nil {
		return nil, err
	}
	historyWindow, err := getEnvAsInt("HISTORY_WINDOW", 100)
	if err != nil {
		return nil, err
	}
	metricsWindow, err := getEnvAsInt("METRICS_WINDOW", 100)
	if err != nil {
		return nil, err
	}

	retryBaseDelay, err := getEnvAsDuration("RETRY_BASE_DELAY", 2*time.Second)
	if err != nil {
		return nil, err
	}
	retryMaxDelay, err := getEnvAsDuration("RETRY_MAX_DELAY", time.Minute)
	if err != nil {
		return nil, err
	}
	jobTimeout, err := getEnvAsDuration("JOB_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	pollInterval, err := getEnvAsDuration("POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	signedURLTTL, err := getEnvAsDuration("SIGNED_URL_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	minETA, err := getEnvAsDuration("MIN_ETA", 5*time.Second)
	if err != nil {
		return nil, err
	}
	maxETA, err := getEnvAsDuration("MAX_ETA", 300*time.Second)
	if err != nil {
		return nil, err
	}

	signingSecret := os.Getenv("SIGNING_SECRET")
	if signingSecret == "" {
		return nil, fmt.Errorf("SIGNING_SECRET is required")
	}

	return &Config{
		Port:           port,
		DataDir:        getEnv("DATA_DIR", "/data"),
		ScratchDir:     getEnv("SCRATCH_DIR", os.TempDir()),
		Workers:        workers,
		MaxRetries:     maxRetries,
		RetryBaseDelay: retryBaseDelay,
		RetryMaxDelay:  retryMaxDelay,
		JobTimeout:     jobTimeout,
		PollInterval:   pollInterval,
		PageTTL:        time.Duration(pageTTLDays) * 24 * time.Hour,
		RasterDPI:      rasterDPI,
		PdftoppmPath:   getEnv("PDFTOPPM_PATH", "pdftoppm"),
		SigningSecret:  signingSecret,
		SignedURLTTL:   signedURLTTL,
		MinETA:         minETA,
		MaxETA:         maxETA,
		HistoryWindow:  historyWindow,
		MetricsWindow:  metricsWindow,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
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

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
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
