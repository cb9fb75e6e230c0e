package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrchestratorConfig is the hot-swappable orchestrator configuration.
// Values are replaced wholesale, never mutated in place.
type OrchestratorConfig struct {
	Enabled                     bool   `json:"enabled" yaml:"enabled"`
	MaxConcurrentExecutions     int    `json:"max_concurrent_executions" yaml:"max_concurrent_executions"`
	PollIntervalSeconds         int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	DiscoveryIntervalSeconds    int    `json:"discovery_interval_seconds" yaml:"discovery_interval_seconds"`
	AutoDiscoverNewFeatures     bool   `json:"auto_discover_new_features" yaml:"auto_discover_new_features"`
	AutoRunOnFeatureChange      bool   `json:"auto_run_on_feature_change" yaml:"auto_run_on_feature_change"`
	ContinuousRegressionEnabled bool   `json:"continuous_regression_enabled" yaml:"continuous_regression_enabled"`
	RegressionIntervalHours     int    `json:"regression_interval_hours" yaml:"regression_interval_hours"`
	HeadlessMode                bool   `json:"headless_mode" yaml:"headless_mode"`
	ExecutionMode               string `json:"execution_mode" yaml:"execution_mode"`

	RetryCeiling           int      `json:"retry_ceiling" yaml:"retry_ceiling"`
	RetryBaseDelay         Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay          Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
	ResetAttemptsOnUpgrade bool     `json:"reset_attempts_on_upgrade" yaml:"reset_attempts_on_upgrade"`
}

// DefaultOrchestratorConfig returns the configuration used when nothing
// overrides it.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Enabled:                     true,
		MaxConcurrentExecutions:     2,
		PollIntervalSeconds:         30,
		DiscoveryIntervalSeconds:    300,
		AutoDiscoverNewFeatures:     true,
		AutoRunOnFeatureChange:      true,
		ContinuousRegressionEnabled: false,
		RegressionIntervalHours:     24,
		HeadlessMode:                true,
		ExecutionMode:               "guided",
		RetryCeiling:                3,
		RetryBaseDelay:              Duration(5 * time.Second),
		RetryMaxDelay:               Duration(5 * time.Minute),
	}
}

// PollInterval is the health/poll cadence.
func (c OrchestratorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// DiscoveryInterval is the discovery loop cadence.
func (c OrchestratorConfig) DiscoveryInterval() time.Duration {
	return time.Duration(c.DiscoveryIntervalSeconds) * time.Second
}

// RegressionInterval is the regression loop cadence.
func (c OrchestratorConfig) RegressionInterval() time.Duration {
	return time.Duration(c.RegressionIntervalHours) * time.Hour
}

// DiscoveryActive reports whether the discovery loop should tick.
func (c OrchestratorConfig) DiscoveryActive() bool {
	return c.Enabled && c.AutoDiscoverNewFeatures
}

// RegressionActive reports whether the regression loop should tick.
func (c OrchestratorConfig) RegressionActive() bool {
	return c.Enabled && c.ContinuousRegressionEnabled
}

// RetryDelay returns the backoff before retry number attempt (1-based):
// base * 2^(attempt-1), capped at the max delay.
func (c OrchestratorConfig) RetryDelay(attempt int) time.Duration {
	base := c.RetryBaseDelay.Std()
	if base <= 0 || attempt <= 0 {
		return 0
	}
	limit := c.RetryMaxDelay.Std()
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}

// Validate checks every field. A zero or negative concurrency budget on an
// enabled configuration is a FatalConfigError; everything else is a
// ValidationError.
func (c OrchestratorConfig) Validate() error {
	if c.MaxConcurrentExecutions <= 0 {
		if c.Enabled {
			return &FatalConfigError{Reason: fmt.Sprintf("max_concurrent_executions must be > 0 while enabled, got %d", c.MaxConcurrentExecutions)}
		}
		return NewValidationError("max_concurrent_executions", "must be > 0")
	}
	if c.PollIntervalSeconds <= 0 {
		return NewValidationError("poll_interval_seconds", "must be > 0")
	}
	if c.DiscoveryIntervalSeconds <= 0 {
		return NewValidationError("discovery_interval_seconds", "must be > 0")
	}
	if c.RegressionIntervalHours <= 0 {
		return NewValidationError("regression_interval_hours", "must be > 0")
	}
	if strings.TrimSpace(c.ExecutionMode) == "" {
		return NewValidationError("execution_mode", "must not be empty")
	}
	if c.RetryCeiling < 0 {
		return NewValidationError("retry_ceiling", "must be >= 0")
	}
	if c.RetryBaseDelay < 0 {
		return NewValidationError("retry_base_delay", "must be >= 0")
	}
	if c.RetryMaxDelay < 0 {
		return NewValidationError("retry_max_delay", "must be >= 0")
	}
	if c.RetryMaxDelay > 0 && c.RetryBaseDelay > c.RetryMaxDelay {
		return NewValidationError("retry_base_delay", "must not exceed retry_max_delay")
	}
	return nil
}

// ConfigPatch carries a partial update. Nil fields are left unchanged.
type ConfigPatch struct {
	Enabled                     *bool     `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MaxConcurrentExecutions     *int      `json:"max_concurrent_executions,omitempty" yaml:"max_concurrent_executions,omitempty"`
	PollIntervalSeconds         *int      `json:"poll_interval_seconds,omitempty" yaml:"poll_interval_seconds,omitempty"`
	DiscoveryIntervalSeconds    *int      `json:"discovery_interval_seconds,omitempty" yaml:"discovery_interval_seconds,omitempty"`
	AutoDiscoverNewFeatures     *bool     `json:"auto_discover_new_features,omitempty" yaml:"auto_discover_new_features,omitempty"`
	AutoRunOnFeatureChange      *bool     `json:"auto_run_on_feature_change,omitempty" yaml:"auto_run_on_feature_change,omitempty"`
	ContinuousRegressionEnabled *bool     `json:"continuous_regression_enabled,omitempty" yaml:"continuous_regression_enabled,omitempty"`
	RegressionIntervalHours     *int      `json:"regression_interval_hours,omitempty" yaml:"regression_interval_hours,omitempty"`
	HeadlessMode                *bool     `json:"headless_mode,omitempty" yaml:"headless_mode,omitempty"`
	ExecutionMode               *string   `json:"execution_mode,omitempty" yaml:"execution_mode,omitempty"`
	RetryCeiling                *int      `json:"retry_ceiling,omitempty" yaml:"retry_ceiling,omitempty"`
	RetryBaseDelay              *Duration `json:"retry_base_delay,omitempty" yaml:"retry_base_delay,omitempty"`
	RetryMaxDelay               *Duration `json:"retry_max_delay,omitempty" yaml:"retry_max_delay,omitempty"`
	ResetAttemptsOnUpgrade      *bool     `json:"reset_attempts_on_upgrade,omitempty" yaml:"reset_attempts_on_upgrade,omitempty"`
}

// Empty reports whether the patch sets nothing.
func (p ConfigPatch) Empty() bool {
	return p == ConfigPatch{}
}

// Apply returns c with every set field of p merged in. c itself is not modified.
func (c OrchestratorConfig) Apply(p ConfigPatch) OrchestratorConfig {
	next := c
	if p.Enabled != nil {
		next.Enabled = *p.Enabled
	}
	if p.MaxConcurrentExecutions != nil {
		next.MaxConcurrentExecutions = *p.MaxConcurrentExecutions
	}
	if p.PollIntervalSeconds != nil {
		next.PollIntervalSeconds = *p.PollIntervalSeconds
	}
	if p.DiscoveryIntervalSeconds != nil {
		next.DiscoveryIntervalSeconds = *p.DiscoveryIntervalSeconds
	}
	if p.AutoDiscoverNewFeatures != nil {
		next.AutoDiscoverNewFeatures = *p.AutoDiscoverNewFeatures
	}
	if p.AutoRunOnFeatureChange != nil {
		next.AutoRunOnFeatureChange = *p.AutoRunOnFeatureChange
	}
	if p.ContinuousRegressionEnabled != nil {
		next.ContinuousRegressionEnabled = *p.ContinuousRegressionEnabled
	}
	if p.RegressionIntervalHours != nil {
		next.RegressionIntervalHours = *p.RegressionIntervalHours
	}
	if p.HeadlessMode != nil {
		next.HeadlessMode = *p.HeadlessMode
	}
	if p.ExecutionMode != nil {
		next.ExecutionMode = strings.TrimSpace(*p.ExecutionMode)
	}
	if p.RetryCeiling != nil {
		next.RetryCeiling = *p.RetryCeiling
	}
	if p.RetryBaseDelay != nil {
		next.RetryBaseDelay = *p.RetryBaseDelay
	}
	if p.RetryMaxDelay != nil {
		next.RetryMaxDelay = *p.RetryMaxDelay
	}
	if p.ResetAttemptsOnUpgrade != nil {
		next.ResetAttemptsOnUpgrade = *p.ResetAttemptsOnUpgrade
	}
	return next
}
