package config

import (
	"fmt"
	"time"

	"github.com/prometheus/common/model"
)

// ServerConfig holds the HTTP service settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"corsOrigins"`
}

// ModelConfig holds artifact locations and fallback-training parameters
// shared by both analytical engines.
type ModelConfig struct {
	Dir             string `yaml:"dir"`             // artifact directory
	TrainingSamples int    `yaml:"trainingSamples"` // synthetic fallback set size
	Estimators      int    `yaml:"estimators"`      // trees in the ensemble
	MaxDepth        int    `yaml:"maxDepth"`
	MinSamplesSplit int    `yaml:"minSamplesSplit"`
	MinSamplesLeaf  int    `yaml:"minSamplesLeaf"`
	Seed            int64  `yaml:"seed"`
}

// VerificationConfig holds the decision thresholds and processing limits
// applied by the aggregator.
type VerificationConfig struct {
	LegitimacyThreshold     float64        `yaml:"legitimacyThreshold"`     // verification requires legitimacy > this
	FeasibilityThreshold    float64        `yaml:"feasibilityThreshold"`    // verification requires feasibility > this
	AreaConfidenceThreshold float64        `yaml:"areaConfidenceThreshold"` // area-level detection requires mean confidence > this
	AreaCoverageThreshold   float64        `yaml:"areaCoverageThreshold"`   // ... and mean coverage (%) > this
	MaxImagesPerArea        int            `yaml:"maxImagesPerArea"`
	MaxProcessingTime       model.Duration `yaml:"maxProcessingTime"`
	InferenceWorkers        int            `yaml:"inferenceWorkers"`
}

// ProviderConfig holds the settings for one external data provider.
type ProviderConfig struct {
	URL         string         `yaml:"url"`
	APIKey      string         `yaml:"apiKey"`
	Timeout     model.Duration `yaml:"timeout"`
	MaxRetries  int            `yaml:"maxRetries"`
	RetryDelay  model.Duration `yaml:"retryDelay"`
	RateLimit   int            `yaml:"rateLimit"` // requests per second
	CacheTTL    model.Duration `yaml:"cacheTTL"`
	MaxCacheAge model.Duration `yaml:"maxCacheAge"`
	UseMock     bool           `yaml:"useMock"` // substitute the built-in mock provider
}

// ProvidersConfig groups the three external collaborators.
type ProvidersConfig struct {
	Environment ProviderConfig `yaml:"environment"`
	Imagery     ProviderConfig `yaml:"imagery"`
	Legitimacy  ProviderConfig `yaml:"legitimacy"`
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metricsEnabled"`
	MetricsPort    int    `yaml:"metricsPort"`
	LogLevel       string `yaml:"logLevel"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retentionDays"`
}

// JobsConfig holds cron expressions for background maintenance.
type JobsConfig struct {
	CleanupSchedule   string `yaml:"cleanupSchedule"`
	HealthLogSchedule string `yaml:"healthLogSchedule"`
}

// Config is the full configuration for the verification engine.
type Config struct {
	Environment   string              `yaml:"environment"`
	Server        ServerConfig        `yaml:"server"`
	Models        ModelConfig         `yaml:"models"`
	Verification  VerificationConfig  `yaml:"verification"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Observability ObservabilityConfig `yaml:"observability"`
	Store         StoreConfig         `yaml:"store"`
	Jobs          JobsConfig          `yaml:"jobs"`
}

// Validate performs validation of the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in (0,65535], got %d", c.Server.Port)
	}
	if c.Models.TrainingSamples < 10 {
		return fmt.Errorf("training sample count must be at least 10, got %d", c.Models.TrainingSamples)
	}
	if c.Models.Estimators <= 0 {
		return fmt.Errorf("estimator count must be positive, got %d", c.Models.Estimators)
	}
	if c.Models.MaxDepth <= 0 {
		return fmt.Errorf("max tree depth must be positive, got %d", c.Models.MaxDepth)
	}
	if err := c.validateThresholds(); err != nil {
		return err
	}
	if c.Verification.MaxImagesPerArea <= 0 {
		return fmt.Errorf("max images per area must be positive, got %d", c.Verification.MaxImagesPerArea)
	}
	if c.Verification.InferenceWorkers <= 0 {
		return fmt.Errorf("inference worker count must be positive, got %d", c.Verification.InferenceWorkers)
	}
	if c.Store.RetentionDays <= 0 {
		return fmt.Errorf("store retention must be positive, got %d days", c.Store.RetentionDays)
	}
	for name, p := range map[string]ProviderConfig{
		"environment": c.Providers.Environment,
		"imagery":     c.Providers.Imagery,
		"legitimacy":  c.Providers.Legitimacy,
	} {
		if !p.UseMock && p.URL == "" {
			return fmt.Errorf("%s provider requires a URL when the mock is disabled", name)
		}
		if p.RateLimit <= 0 {
			return fmt.Errorf("%s provider rate limit must be positive, got %d", name, p.RateLimit)
		}
	}
	return nil
}

func (c *Config) validateThresholds() error {
	for name, v := range map[string]float64{
		"legitimacy":  c.Verification.LegitimacyThreshold,
		"feasibility": c.Verification.FeasibilityThreshold,
		"confidence":  c.Verification.AreaConfidenceThreshold,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("%s threshold must be in (0,1), got %f", name, v)
		}
	}
	if c.Verification.AreaCoverageThreshold <= 0 || c.Verification.AreaCoverageThreshold >= 100 {
		return fmt.Errorf("coverage threshold must be in (0,100), got %f", c.Verification.AreaCoverageThreshold)
	}
	if time.Duration(c.Verification.MaxProcessingTime) <= 0 {
		return fmt.Errorf("max processing time must be positive")
	}
	return nil
}
