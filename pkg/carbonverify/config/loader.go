package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// LoadFromEnv loads configuration from environment variables, falling back
// to defaults suitable for local development.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:        getEnvOrDefault("API_HOST", "0.0.0.0"),
			Port:        getIntOrDefault("API_PORT", 8001),
			CORSOrigins: []string{getEnvOrDefault("CORS_ORIGIN", "http://localhost:3000")},
		},
		Models: ModelConfig{
			Dir:             getEnvOrDefault("MODEL_PATH", "./models"),
			TrainingSamples: getIntOrDefault("MODEL_TRAINING_SAMPLES", 1000),
			Estimators:      getIntOrDefault("MODEL_ESTIMATORS", 100),
			MaxDepth:        getIntOrDefault("MODEL_MAX_DEPTH", 10),
			MinSamplesSplit: getIntOrDefault("MODEL_MIN_SAMPLES_SPLIT", 5),
			MinSamplesLeaf:  getIntOrDefault("MODEL_MIN_SAMPLES_LEAF", 2),
			Seed:            int64(getIntOrDefault("MODEL_SEED", 42)),
		},
		Verification: VerificationConfig{
			LegitimacyThreshold:     getFloatOrDefault("LEGITIMACY_THRESHOLD", 0.8),
			FeasibilityThreshold:    getFloatOrDefault("FEASIBILITY_THRESHOLD", 0.7),
			AreaConfidenceThreshold: getFloatOrDefault("AREA_CONFIDENCE_THRESHOLD", 0.8),
			AreaCoverageThreshold:   getFloatOrDefault("AREA_COVERAGE_THRESHOLD", 60.0),
			MaxImagesPerArea:        getIntOrDefault("MAX_IMAGES_PER_AREA", 8),
			MaxProcessingTime:       getDurationOrDefault("MAX_PROCESSING_TIME", 5*time.Minute),
			InferenceWorkers:        getIntOrDefault("INFERENCE_WORKERS", 4),
		},
		Providers: ProvidersConfig{
			Environment: loadProvider("ENVIRONMENT_API", "https://api.carbonflow.ai/v1/environment/"),
			Imagery:     loadProvider("SATELLITE_API", "https://api.carbonflow.ai/v1/imagery/"),
			Legitimacy:  loadProvider("LEGITIMACY_API", "https://api.carbonflow.ai/v1/legitimacy/"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getBoolOrDefault("METRICS_ENABLED", true),
			MetricsPort:    getIntOrDefault("METRICS_PORT", 9090),
			LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Path:          getEnvOrDefault("STORE_PATH", "./data/carbonverify.db"),
			RetentionDays: getIntOrDefault("STORE_RETENTION_DAYS", 365),
		},
		Jobs: JobsConfig{
			CleanupSchedule:   getEnvOrDefault("CLEANUP_SCHEDULE", "0 3 * * *"),
			HealthLogSchedule: getEnvOrDefault("HEALTH_LOG_SCHEDULE", "@every 1h"),
		},
	}

	// An optional YAML file overlays the environment values.
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %v", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	klog.V(2).InfoS("Loaded configuration",
		"environment", cfg.Environment,
		"modelDir", cfg.Models.Dir,
		"legitimacyThreshold", cfg.Verification.LegitimacyThreshold,
		"feasibilityThreshold", cfg.Verification.FeasibilityThreshold,
		"inferenceWorkers", cfg.Verification.InferenceWorkers,
		"storePath", cfg.Store.Path)

	return cfg, nil
}

// loadProvider reads the settings for one external provider; prefix is the
// environment variable prefix, e.g. SATELLITE_API_KEY.
func loadProvider(prefix, defaultURL string) ProviderConfig {
	return ProviderConfig{
		URL:         getEnvOrDefault(prefix+"_URL", defaultURL),
		APIKey:      os.Getenv(prefix + "_KEY"),
		Timeout:     getDurationOrDefault(prefix+"_TIMEOUT", 10*time.Second),
		MaxRetries:  getIntOrDefault(prefix+"_MAX_RETRIES", 3),
		RetryDelay:  getDurationOrDefault(prefix+"_RETRY_DELAY", time.Second),
		RateLimit:   getIntOrDefault(prefix+"_RATE_LIMIT", 10),
		CacheTTL:    getDurationOrDefault(prefix+"_CACHE_TTL", 5*time.Minute),
		MaxCacheAge: getDurationOrDefault(prefix+"_MAX_CACHE_AGE", time.Hour),
		// Mock providers are the default outside production; real keys are
		// usually absent in development.
		UseMock: getBoolOrDefault(prefix+"_USE_MOCK", os.Getenv(prefix+"_KEY") == ""),
	}
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %v", path, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.Atoi(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid integer value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseFloat(strValue, 64); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid float value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseBool(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid boolean value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) model.Duration {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := model.ParseDuration(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid duration value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return model.Duration(defaultValue)
}
